// Package logging configures log/slog for csvload and enriches loggers
// with the request and import identifiers carried in a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvload/internal/core"
)

// Setup installs a default logger writing to stdout and returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) *slog.Logger {
	logger := New(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w without touching the default.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger enriched with the chi request ID
// and the import ID found in ctx, so every line of one request or one
// import run can be correlated.
//
//	logger := logging.FromContext(r.Context())
//	logger.Info("import accepted", "table", req.Table)
func FromContext(ctx context.Context) *slog.Logger {
	return enrich(ctx, slog.Default())
}

func enrich(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if id := core.ImportIDFromContext(ctx); id != "" {
		logger = logger.With("import_id", id)
	}
	return logger
}

// SQLSink returns a core.SQLLogger that writes each statement to logger
// at debug level. Statements are logged before they run.
func SQLSink(logger *slog.Logger) core.SQLLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, query string) {
		enrich(ctx, logger).DebugContext(ctx, "sql", "statement", query)
	}
}

// DiscardSQL is a core.SQLLogger that drops every statement.
func DiscardSQL(context.Context, string) {}
