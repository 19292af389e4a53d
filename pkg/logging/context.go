package logging

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithContext stores log on ctx. Handlers downstream of the request logger
// and every service call made for a websocket session pick it up through
// FromContext.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// WithSession scopes log to one websocket session and stores it on ctx.
func WithSession(ctx context.Context, log *slog.Logger, userID, sessionID string) (context.Context, *slog.Logger) {
	sess := log.With(User(userID), Session(sessionID))
	return WithContext(ctx, sess), sess
}

// FromContext returns the request-scoped logger, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
