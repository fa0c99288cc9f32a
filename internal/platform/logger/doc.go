// Package logger provides structured logging functionality for the application
// using Go's standard library log/slog package. It configures the process-wide
// default logger from configuration and carries request-scoped loggers through
// context.Context.
package logger
