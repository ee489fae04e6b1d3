// Package telemetry provides the logging and metrics facades used across the
// runtime. Logging delegates to goa.design/clue/log; metrics are OTel
// instruments registered on the global MeterProvider.
package telemetry

import (
	"context"
)

type (
	// Logger emits structured log entries. All runtime components log
	// through this interface so tests can capture output and services can
	// swap implementations.
	Logger interface {
		// Debug emits a debug-level message with key-value pairs.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level message with key-value pairs.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level message with key-value pairs.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level message with key-value pairs.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// NopLogger discards all log entries.
	NopLogger struct{}
)

// Debug implements Logger.
func (NopLogger) Debug(context.Context, string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(context.Context, string, ...any) {}

// Warn implements Logger.
func (NopLogger) Warn(context.Context, string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(context.Context, string, ...any) {}
