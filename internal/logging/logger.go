// Package logging defines the structured logger every component receives.
// SlogLogger is the production implementation; Nop discards everything.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// Args are key/value pairs:
//
//	logger.Warn(ctx, "startup unlock failed", "error", err)
//
// Secrets never go into args.
type Logger interface {
	// Debug logs diagnostic details that are off in production.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying the given pairs, typically
	// "module", "<component>".
	With(args ...any) Logger
}

type Nop struct{}

func (Nop) Debug(context.Context, string, ...any) {}
func (Nop) Info(context.Context, string, ...any)  {}
func (Nop) Warn(context.Context, string, ...any)  {}
func (Nop) Error(context.Context, string, ...any) {}
func (n Nop) With(...any) Logger                  { return n }
