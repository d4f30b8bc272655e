package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "attendance.db")
	db, err := NewSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestNewSQLiteMemory(t *testing.T) {
	db, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNewPostgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := NewPostgres(context.Background(), url)
	require.NoError(t, err)
	db.Close()
}

func TestRedisHealthyNil(t *testing.T) {
	var r *Redis
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())
}
