// Package zerolog adapts github.com/rs/zerolog to loyalty.Logger.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goloyalty/pkg/loyalty"
)

// Logger implements loyalty.Logger using zerolog.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new zerolog logger adapter.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...loyalty.Field) {
	l.log(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...loyalty.Field) {
	l.log(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...loyalty.Field) {
	l.log(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...loyalty.Field) {
	l.log(l.logger.Error(), msg, fields)
}

// log writes fields with typed encoders where zerolog has one.
// Filtered levels return a nil event, which is a no-op.
func (l *Logger) log(event *zerolog.Event, msg string, fields []loyalty.Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case bool:
			event = event.Bool(f.Key, v)
		case error:
			event = event.AnErr(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}
