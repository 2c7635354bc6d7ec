// Package testutil holds small helpers shared by the package tests.
package testutil

import (
	"io"
	"log/slog"
	"testing"
)

// Logger returns a logger that swallows all output. Tests assert on
// behavior, not log lines.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
