// Package app assembles the attendance components from configuration. Both
// the API server and the photo worker start from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"classattend/internal/analytics"
	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/directory"
	"classattend/internal/faceclient"
	"classattend/internal/httpmiddleware"
	"classattend/internal/ledger"
	"classattend/internal/metrics"
	"classattend/internal/photojob"
	"classattend/internal/queue"
	"classattend/internal/session"
	"classattend/internal/store"
	"classattend/internal/verify"
)

// Components are the wired services of one process.
type Components struct {
	Config    config.App
	Log       *slog.Logger
	Registry  *prometheus.Registry
	Directory *directory.Static
	Ledger    ledger.Ledger
	Sessions  *session.Manager
	Service   *attendance.Service
	Analytics *analytics.Aggregator
	Face      *faceclient.Client
	Photos    *photojob.Processor
	Queue     queue.Queue
	Limiter   httpmiddleware.Limiter
	// Redis is nil when no backend uses it.
	Redis *store.Redis
	db    *sql.DB
}

// Build opens every backend named by cfg.
func Build(ctx context.Context, cfg config.App, log *slog.Logger) (*Components, error) {
	c := &Components{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var err error
	if c.Directory, err = loadDirectory(cfg.DirectoryFile); err != nil {
		return nil, err
	}

	if usesRedis(cfg) {
		c.Redis = store.NewRedis(cfg.RedisAddr)
		if !c.Redis.Healthy(ctx) {
			log.Warn("redis not reachable at startup", "addr", cfg.RedisAddr)
		}
	}

	if err := c.openLedger(ctx); err != nil {
		c.Close()
		return nil, err
	}

	var sessionStore session.Store = session.NewMemoryStore()
	if cfg.SessionBackend == "redis" {
		sessionStore = session.NewRedisStore(c.Redis.Client, "")
	}
	c.Sessions = session.NewManager(sessionStore, cfg.SessionTTL, cfg.SessionRetention)

	c.Face = faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	verifier := verify.ByMethod{
		ledger.MethodFace:      verify.Face{Client: c.Face, RequireLiveness: !cfg.FaceSkip},
		ledger.MethodBiometric: verify.Credential{},
	}
	c.Service = attendance.NewService(c.Sessions, c.Ledger, c.Directory, verifier,
		attendance.WithCampusNetworks(cfg.CampusNetworks),
		attendance.WithVerifyTimeout(cfg.VerifyTimeout),
		attendance.WithObserver(metrics.New(c.Registry)),
		attendance.WithLogger(log),
	)
	c.Analytics = analytics.New(c.Ledger, c.Directory)
	c.Photos = photojob.NewProcessor(c.Face, c.Service, log)

	if cfg.QueueBackend == "redis" {
		c.Queue = queue.NewRedisQueue(c.Redis.Client, "attendance:photos", log)
	} else {
		c.Queue = queue.NewInMemory(64)
	}

	if cfg.RateBackend == "redis" {
		c.Limiter = httpmiddleware.NewRedisWindow(c.Redis.Client, cfg.RateLimitPerMin)
	} else {
		c.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}
	return c, nil
}

func (c *Components) openLedger(ctx context.Context) error {
	var err error
	switch c.Config.LedgerBackend {
	case "memory":
		c.Ledger = ledger.NewMemory()
		return nil
	case "postgres":
		c.db, err = store.NewPostgres(ctx, c.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres ledger: %w", err)
		}
		return c.migrate(ctx, ledger.NewSQL(c.db, ledger.Postgres))
	default:
		c.db, err = store.NewSQLite(ctx, c.Config.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite ledger: %w", err)
		}
		return c.migrate(ctx, ledger.NewSQL(c.db, ledger.SQLite))
	}
}

func (c *Components) migrate(ctx context.Context, l *ledger.SQL) error {
	if err := l.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	c.Ledger = l
	return nil
}

// Checks returns the dependency health checks for /healthz.
func (c *Components) Checks() map[string]func(context.Context) bool {
	checks := map[string]func(context.Context) bool{}
	if c.db != nil {
		checks["db"] = func(ctx context.Context) bool { return c.db.PingContext(ctx) == nil }
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Healthy
	}
	return checks
}

// Close releases database and redis connections.
func (c *Components) Close() error {
	var errs []error
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	return errors.Join(errs...)
}

func usesRedis(cfg config.App) bool {
	return cfg.SessionBackend == "redis" || cfg.QueueBackend == "redis" || cfg.RateBackend == "redis"
}

func loadDirectory(path string) (*directory.Static, error) {
	if path == "" {
		return directory.Default(), nil
	}
	d, err := directory.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	return d, nil
}
