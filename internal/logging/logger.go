// Package logging is the structured logger used by the storage layers, the
// manager and the CLI. Messages carry entity names, backend types and
// counts; passwords and record contents are never logged.
package logging

import "context"

// Logger is a context-aware logger taking key/value pairs:
//
//	log.Info(ctx, "secure storage unlocked", "backend", typ, "entities", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
