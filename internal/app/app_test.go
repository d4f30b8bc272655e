package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/ledger"
	"classattend/internal/queue"
)

func testConfig(t *testing.T) config.App {
	return config.App{
		Env:              "test",
		LedgerBackend:    "sqlite",
		SQLitePath:       filepath.Join(t.TempDir(), "attendance.db"),
		SessionBackend:   "memory",
		QueueBackend:     "memory",
		RateBackend:      "memory",
		SessionTTL:       10 * time.Second,
		SessionRetention: time.Hour,
		VerifyTimeout:    time.Second,
		CampusNetworks:   []string{"CollegeWiFi"},
		FaceSkip:         true,
		RateLimitPerMin:  60,
	}
}

func TestBuildSQLite(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	c, err := Build(ctx, testConfig(t), log)
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Redis)
	assert.Contains(t, c.Checks(), "db")
	assert.True(t, c.Checks()["db"](ctx))

	s, err := c.Service.IssueSession(ctx, "CS101", "TCH001")
	require.NoError(t, err)
	res, err := c.Service.Redeem(ctx, attendance.Request{
		ClassID: "CS101", Token: s.Token, StudentID: "STU001", Method: ledger.MethodQR,
		Evidence: attendance.Evidence{NetworkID: "CollegeWiFi"},
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.OutcomeCommitted, res.Outcome)

	recs, err := c.Ledger.Query(ctx, ledger.Filter{ClassID: "CS101"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	mfs, err := c.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "attendance_redemptions_total")
}

func TestBuildDirectoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
students:
  - id: S1
    name: Ada
classes:
  - id: C1
    name: Logic
teachers:
  - id: T1
    email: t1@college.edu
`), 0o600))

	cfg := testConfig(t)
	cfg.LedgerBackend = "memory"
	cfg.DirectoryFile = path
	c, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Directory.Class(context.Background(), "C1")
	assert.NoError(t, err)
	assert.Empty(t, c.Checks())
}

func TestBuildMissingDirectoryFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.DirectoryFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), cfg, slog.Default())
	assert.ErrorContains(t, err, "load directory")
}

func TestBuildRedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.LedgerBackend = "memory"
	cfg.RedisAddr = mr.Addr()
	cfg.SessionBackend = "redis"
	cfg.QueueBackend = "redis"
	cfg.RateBackend = "redis"

	c, err := Build(ctx, cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Redis)
	assert.True(t, c.Checks()["redis"](ctx))
	assert.IsType(t, &queue.RedisQueue{}, c.Queue)

	s, err := c.Service.IssueSession(ctx, "CS101", "TCH002")
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())

	res, err := c.Service.Redeem(ctx, attendance.Request{
		ClassID: "CS101", Token: s.Token, StudentID: "STU002", Method: ledger.MethodQR,
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.OutcomeCommitted, res.Outcome)

	ok, err := c.Limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}
