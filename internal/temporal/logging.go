package temporal

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalAdapter routes Temporal SDK logging into zerolog.
type TemporalAdapter struct {
	logger zerolog.Logger
}

var (
	_ log.Logger     = (*TemporalAdapter)(nil)
	_ log.WithLogger = (*TemporalAdapter)(nil)
)

func NewTemporalAdapter(logger zerolog.Logger) *TemporalAdapter {
	return &TemporalAdapter{
		logger: logger.With().Str("component", "temporal-sdk").Logger(),
	}
}

// fields attaches SDK key/value pairs. An odd trailing key is logged under
// "extra"; errors go through zerolog's error field.
func fields(event *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			return event.Interface("extra", keyvals[i])
		}
		key := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case error:
			event = event.AnErr(key, v)
		case string:
			event = event.Str(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	return event
}

func (a *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	fields(a.logger.Debug(), keyvals).Msg(msg)
}

func (a *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	fields(a.logger.Info(), keyvals).Msg(msg)
}

func (a *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	fields(a.logger.Warn(), keyvals).Msg(msg)
}

func (a *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	fields(a.logger.Error(), keyvals).Msg(msg)
}

// With returns an adapter that always logs keyvals.
func (a *TemporalAdapter) With(keyvals ...interface{}) log.Logger {
	ctx := a.logger.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(keyvals[i]), keyvals[i+1])
	}
	return &TemporalAdapter{logger: ctx.Logger()}
}
