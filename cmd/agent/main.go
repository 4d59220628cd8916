package main

import (
	"context"
	"log"
	"os"

	"github.com/fieldsnap/fieldsnap/internal/agent/cli"
	"github.com/fieldsnap/fieldsnap/internal/agent/config"
	"github.com/fieldsnap/fieldsnap/internal/buildinfo"

	_ "modernc.org/sqlite"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
