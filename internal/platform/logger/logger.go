package logger

import (
	"io"
	"log/slog"
	"os"

	"campuschat/internal/config"

	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the process logger. Records go to stdout in the configured
// format; when a log file is configured a JSON copy is fanned out to it.
// The returned cleanup closes the file.
func NewLogger(cfg config.Config) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{
		Level:     cfg.Logger.Level,
		AddSource: true,
	}
	handler := newHandler(os.Stdout, cfg.Logger.Format, opts)
	cleanup := func() error { return nil }
	if cfg.Logger.File != "" {
		file, err := os.OpenFile(cfg.Logger.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("logger - open log file failed, using stdout only", "file", cfg.Logger.File, "err", err)
		} else {
			handler = slogmulti.Fanout(handler, slog.NewJSONHandler(file, opts))
			cleanup = file.Close
		}
	}
	logger := slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("env", cfg.Service.Env),
		slog.String("address", cfg.Service.Add),
		slog.Int("pid", os.Getpid()),
	)
	slog.SetDefault(logger)
	return logger, cleanup
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "TEXT" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
