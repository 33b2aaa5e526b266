package bootstrap

import (
	"log/slog"
	"os"
	"strings"

	"github.com/storycanvas-app/collab-backend/config"
)

// NewLogger builds the process logger. Production gets JSON lines, anything
// else a human-readable text handler.
func NewLogger(cfg *config.AppConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("instance_id", cfg.InstanceID)
	slog.SetDefault(logger)
	return logger
}
