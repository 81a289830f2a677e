// Package cortexlog sets the process-wide default structured logger
// shared by every cortex-id binary.
package cortexlog

import (
	"log/slog"
	"os"
)

// Init installs a text-handler slog.Logger at the given level as the
// process default and returns it. Call once from main before any
// other package logs.
func Init(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// With returns a logger scoped to a node, attaching its name and
// role as structured fields on every subsequent line.
func With(nodeName, role string) *slog.Logger {
	logger := slog.Default()
	if nodeName != "" {
		logger = logger.With("node_name", nodeName)
	}
	return logger.With("role", role)
}
