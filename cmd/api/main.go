package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/app"
	"classattend/internal/cloudinary"
	"classattend/internal/config"
	"classattend/internal/handler"
	"classattend/internal/httpmiddleware"
	"classattend/internal/logger"
	"classattend/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Error("http server failed", "err", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	// With an in-memory queue nobody else can drain photo jobs.
	if _, ok := c.Queue.(*queue.InMemory); ok {
		msgs, err := c.Queue.Consume(ctx)
		if err != nil {
			return err
		}
		go c.Photos.Run(ctx, msgs)
		log.Info("photo jobs processed in-process")
	}

	var uploader handler.Uploader
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		uploader = cdn
		log.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		log.Info("cloudinary not configured, /v1/upload disabled")
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		httpmiddleware.RequestLogger(log, "/healthz", "/metrics"),
		httpmiddleware.CORS(),
		httpmiddleware.SecurityHeaders(),
		httpmiddleware.RateLimit(c.Limiter, log),
	)

	handler.New(handler.Deps{
		Service:   c.Service,
		Analytics: c.Analytics,
		Directory: c.Directory,
		Photos:    c.Photos,
		Queue:     c.Queue,
		Uploader:  uploader,
		Auth: handler.AuthConfig{
			SigningKey:      cfg.JWTSigningKey,
			Issuer:          cfg.JWTIssuer,
			AccessTTL:       cfg.AccessTTL,
			RefreshTTL:      cfg.RefreshTTL,
			TeacherPassword: cfg.TeacherPassword,
		},
		Checks:  c.Checks(),
		Metrics: promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}),
		Log:     log,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr, "ledger", cfg.LedgerBackend, "sessions", cfg.SessionBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", "err", err)
	}
	log.Info("server exited")
	return nil
}
