// Package zerolog adapts rs/zerolog to billing.Logger.
package zerolog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Logger writes billing log lines through a zerolog.Logger
type Logger struct {
	zl zerolog.Logger
}

// NewLogger wraps zl
func NewLogger(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// With returns a child logger that adds fields to every line
func (l *Logger) With(fields ...billing.Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debug(msg string, fields ...billing.Field) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...billing.Field)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...billing.Field)  { emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...billing.Field) { emit(l.zl.Error(), msg, fields) }

// emit is a no-op for disabled levels, where zerolog hands back a nil event
func emit(e *zerolog.Event, msg string, fields []billing.Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		e = field(e, f)
	}
	e.Msg(msg)
}

func field(e *zerolog.Event, f billing.Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case nil:
		return e.Interface(f.Key, nil)
	case error:
		return e.AnErr(f.Key, v)
	case string:
		return e.Str(f.Key, v)
	case bool:
		return e.Bool(f.Key, v)
	case int:
		return e.Int(f.Key, v)
	case int64:
		return e.Int64(f.Key, v)
	case float64:
		return e.Float64(f.Key, v)
	case time.Duration:
		return e.Dur(f.Key, v)
	case time.Time:
		return e.Time(f.Key, v)
	case *time.Time:
		if v == nil {
			return e.Interface(f.Key, nil)
		}
		return e.Time(f.Key, *v)
	case fmt.Stringer:
		return e.Stringer(f.Key, v)
	default:
		return e.Interface(f.Key, v)
	}
}
