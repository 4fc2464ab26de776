// Package logger defines the minimal structured logging surface the
// authorization engine depends on, with adapters for the oarkflow/log
// builder API and for log/slog.
package logger

import (
	"crypto/rand"
	"encoding/hex"
)

// Logger accepts alternating key/value pairs, like slog. A trailing key with
// no value is dropped.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// TraceIDFunc produces a correlation ID per decision. Implementations must be
// safe for concurrent use.
type TraceIDFunc func() string

// RandomTraceID returns 16 hex characters of randomness.
func RandomTraceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}
