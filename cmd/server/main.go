// Package main is the entry point for the fieldsnap media API server.
package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fieldsnap/fieldsnap/internal/buildinfo"
	"github.com/fieldsnap/fieldsnap/internal/remote"
	"github.com/fieldsnap/fieldsnap/internal/server/config"
	"github.com/fieldsnap/fieldsnap/internal/server/handler"
	"github.com/fieldsnap/fieldsnap/internal/server/locks"
	"github.com/fieldsnap/fieldsnap/internal/server/repository"
	"github.com/fieldsnap/fieldsnap/internal/server/tasks"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			newLogger,
			newGinEngine,
		),
		fx.Invoke(startServer),
	)

	app.Run()
}

// newLogger creates a new zap logger based on the environment.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newGinEngine creates and configures a new Gin engine.
func newGinEngine(cfg *config.Config) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	return engine
}

// startServer connects the storage backends, registers the API routes and
// ties the HTTP server to the fx lifecycle.
func startServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, engine *gin.Engine) error {
	buildinfo.PrintBuildData(zap.NewStdLog(logger).Writer())

	ctx := context.Background()

	repo, err := repository.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return err
	}

	lockSvc, err := locks.New(ctx, cfg.RedisURL, cfg.LockTTL)
	if err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		return err
	}

	blobs, err := remote.NewS3BlobStore(ctx, remote.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		logger.Error("Failed to build blob store", zap.Error(err))
		return err
	}

	dispatcher := tasks.NewDispatcher(cfg.RenderWorkers, cfg.RenderQueueSize, logger)

	h := handler.NewHandler(repo, lockSvc, blobs, dispatcher, logger, []byte(cfg.JWTSecret))

	engine.GET("/healthz", h.Health)
	apiV1 := engine.Group("/api/v1")
	h.RegisterRoutes(apiV1)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			dispatcher.Start(ctx)
			go func() {
				logger.Info("Server starting", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Server shutting down")

			if err := server.Shutdown(ctx); err != nil {
				logger.Warn("Server shutdown", zap.Error(err))
			}
			dispatcher.Close()
			return repo.Close()
		},
	})

	return nil
}
