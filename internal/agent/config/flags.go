package config

import (
	"flag"
	"os"
	"time"

	"github.com/fieldsnap/fieldsnap/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the media API (default from Config)
//	-i int      online check interval in seconds (default from Config)
//	-q string   path to the local queue database
//	-w string   capture directory to watch for photos
//	-j string   job id attached to photos from the capture directory
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-q", "-w", "-j"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "base URL of the media API")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.QueueDBPath, "q", cfg.QueueDBPath, "path to the local queue database")
	fs.StringVar(&cfg.InboxDir, "w", cfg.InboxDir, "capture directory to watch for photos")
	fs.StringVar(&cfg.InboxJobID, "j", cfg.InboxJobID, "job id for photos from the capture directory")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
