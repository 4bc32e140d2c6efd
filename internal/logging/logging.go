// Package logging wraps log/slog the way the teacher wraps the stdlib
// *log.Logger: a base process logger, plus a per-connection child logger
// that tags every line with connection-identifying context. The teacher's
// Client embeds *log.Logger and forwards lines through a
// clientLogForwarder that prefixes messages with the client's session
// number; here that becomes structured slog attributes instead of a text
// prefix, attached once via With so every call site stays a plain
// logger.Info/Warn/Error call.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New builds the process-wide base logger, writing JSON lines to w (or
// os.Stderr if w is nil) at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// ForSession returns a child logger tagged with the session id and
// username, mirroring the teacher's clientLogForwarder prefix but as
// structured fields so log aggregation can filter on them directly.
func ForSession(base *slog.Logger, sessionID uint32, username string) *slog.Logger {
	return base.With(slog.Uint64("session", uint64(sessionID)), slog.String("username", username))
}

// ForEdge returns a child logger tagged with an Edge instance id, used by
// the Hub when logging anything about a specific connected Edge.
func ForEdge(base *slog.Logger, edgeID string) *slog.Logger {
	return base.With(slog.String("edge_id", edgeID))
}

type ctxKey struct{}

// Into stashes a logger on ctx for handlers deep in a call chain that
// don't otherwise carry one (e.g. clusterproto.Handler implementations).
func Into(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From retrieves a logger stashed with Into, or slog.Default() if none was
// stashed.
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
