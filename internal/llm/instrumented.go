package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-pipeline-service/internal/observability"
)

// InstrumentedCompleter records metrics and a debug log line for every call.
type InstrumentedCompleter struct {
	next    Completer
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewInstrumentedCompleter wraps next. metrics may be nil.
func NewInstrumentedCompleter(next Completer, metrics *observability.Metrics, logger zerolog.Logger) *InstrumentedCompleter {
	return &InstrumentedCompleter{
		next:    next,
		metrics: metrics,
		logger:  logger.With().Str("component", "llm").Str("provider", next.Provider()).Logger(),
	}
}

func (c *InstrumentedCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.RecordLLMRequestFailed(c.next.Provider(), c.next.Model(), errorType(err))
		c.logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("completion failed")
		return nil, err
	}

	c.metrics.RecordLLMRequest(c.next.Provider(), resp.Model, elapsed.Seconds(), resp.InputTokens, resp.OutputTokens)
	c.logger.Debug().
		Str("model", resp.Model).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Str("stop_reason", resp.StopReason).
		Dur("elapsed", elapsed).
		Msg("completion finished")
	return resp, nil
}

func (c *InstrumentedCompleter) Provider() string { return c.next.Provider() }

func (c *InstrumentedCompleter) Model() string { return c.next.Model() }
