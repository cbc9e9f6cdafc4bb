package observability

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

var _ log.Logger = (*TemporalLogger)(nil)

// TemporalLogger adapts zerolog to Temporal's log.Logger interface.
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger creates a TemporalLogger tagged "component":"temporal-sdk".
func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger.With().Str("component", "temporal-sdk").Logger()}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug().Fields(keyvalToMap(keyvals)).Msg(msg)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info().Fields(keyvalToMap(keyvals)).Msg(msg)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn().Fields(keyvalToMap(keyvals)).Msg(msg)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error().Fields(keyvalToMap(keyvals)).Msg(msg)
}

// With returns a logger carrying keyvals on every entry.
func (l *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	return &TemporalLogger{logger: l.logger.With().Fields(keyvalToMap(keyvals)).Logger()}
}

// keyvalToMap converts alternating key-value pairs to a map for zerolog fields.
// A trailing key without value is dropped.
func keyvalToMap(keyvals []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		m[key] = keyvals[i+1]
	}
	return m
}
