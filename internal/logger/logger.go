package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns the process logger. Production gets JSON at info level, anything
// else gets human-readable text at debug level.
func New(env string) *slog.Logger {
	return newWithWriter(env, os.Stdout)
}

func newWithWriter(env string, w io.Writer) *slog.Logger {
	if env == "production" || env == "prod" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
