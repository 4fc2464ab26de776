package logger

import (
	"fmt"

	"github.com/oarkflow/log"
)

// PhusluLogger emits through the oarkflow/log zero-allocation builder.
type PhusluLogger struct{}

func NewPhusluLogger() *PhusluLogger { return &PhusluLogger{} }

func (*PhusluLogger) Debug(msg string, keyvals ...any) { emit(log.Debug(), msg, keyvals) }
func (*PhusluLogger) Info(msg string, keyvals ...any)  { emit(log.Info(), msg, keyvals) }
func (*PhusluLogger) Error(msg string, keyvals ...any) { emit(log.Error(), msg, keyvals) }

func emit(b *log.Entry, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			b = b.Str(key, v)
		case bool:
			b = b.Bool(key, v)
		case int:
			b = b.Int(key, v)
		case int64:
			b = b.Int64(key, v)
		case error:
			b = b.Str(key, v.Error())
		default:
			b = b.Any(key, v)
		}
	}
	b.Msg(msg)
}
