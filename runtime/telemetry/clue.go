package telemetry

import (
	"context"
	"fmt"

	"goa.design/clue/log"
)

// ClueLogger delegates to goa.design/clue/log. The logger reads formatting
// and debug settings from the context (set via log.Context with
// log.WithFormat/log.WithDebug in cmd/agent).
type ClueLogger struct{}

// NewClueLogger constructs a Logger backed by clue.
func NewClueLogger() Logger { return ClueLogger{} }

// Debug implements Logger.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

// Info implements Logger.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

// Warn implements Logger.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

// Error implements Logger.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Print(ctx, fielders(msg, append(keyvals, "severity", "error"))...)
}

func fielders(msg string, keyvals []any) []log.Fielder {
	fs := make([]log.Fielder, 0, 1+len(keyvals)/2)
	fs = append(fs, log.KV{K: "msg", V: msg})
	for i := 0; i+1 < len(keyvals); i += 2 {
		fs = append(fs, log.KV{K: fmt.Sprint(keyvals[i]), V: keyvals[i+1]})
	}
	return fs
}
