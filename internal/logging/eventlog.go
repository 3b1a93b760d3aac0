package logging

import (
	"time"

	"github.com/rs/zerolog"
)

// EventLogger adapts zerolog to the dispatcher's Logger interface. Values
// keep their zerolog encoding: errors under their key, durations in ms.
type EventLogger struct {
	zl zerolog.Logger
}

// NewEventLogger wraps zl.
func NewEventLogger(zl zerolog.Logger) *EventLogger {
	return &EventLogger{zl: zl}
}

func (l *EventLogger) Debug(msg string, keysAndValues ...any) {
	emit(l.zl.Debug(), msg, keysAndValues)
}

func (l *EventLogger) Info(msg string, keysAndValues ...any) {
	emit(l.zl.Info(), msg, keysAndValues)
}

func (l *EventLogger) Error(msg string, keysAndValues ...any) {
	emit(l.zl.Error(), msg, keysAndValues)
}

// emit skips pairs whose key is not a string and a trailing lone value.
// e is nil when the level is disabled; zerolog's methods accept that.
func emit(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case string:
			e = e.Str(key, v)
		case bool:
			e = e.Bool(key, v)
		case int:
			e = e.Int(key, v)
		case int64:
			e = e.Int64(key, v)
		case float64:
			e = e.Float64(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
