package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"classattend/internal/app"
	"classattend/internal/config"
	"classattend/internal/logger"
)

// Worker consumes photo jobs from the shared queue, runs face search and
// records batch attendance.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	if cfg.QueueBackend != "redis" {
		log.Error("worker needs QUEUE_BACKEND=redis; the api drains the memory queue itself")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer c.Close()

	if !cfg.FaceSkip {
		if err := c.Face.Health(ctx); err != nil {
			log.Warn("face service not available, jobs will fail until it is", "err", err)
		} else {
			log.Info("face service connected")
		}
	}

	messages, err := c.Queue.Consume(ctx)
	if err != nil {
		log.Error("queue consume init failed", "err", err)
		os.Exit(1)
	}

	log.Info("worker started, waiting for photo jobs")
	c.Photos.Run(ctx, messages)
	log.Info("worker stopped")
}
