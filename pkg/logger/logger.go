package logger

import (
	"context"
	"log/slog"
	"os"
)

// New builds the process logger: JSON to stdout, tagged with the service
// name, debug level outside the deployed environments so local webhook
// traffic is fully visible.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	switch appEnv {
	case "local", "dev":
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "voicebridge")
}

type loggerKey struct{}

// With attaches a request-scoped logger to ctx.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// From returns the logger attached by With, falling back to slog.Default().
// Service code always logs through this so the request id injected by the
// HTTP middleware survives across package boundaries.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
