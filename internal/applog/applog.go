// Package applog wires the configured log level into the process-wide
// slog default logger, the way sol's cmd entrypoint sets up logging
// before starting any server.
package applog

import (
	"log/slog"
	"os"
)

// Init installs a text handler at level as the slog default, matching
// the plain stderr logging every server in this codebase relies on.
func Init(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
