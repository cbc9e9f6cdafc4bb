package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// RateLimitedCompleter throttles calls to the wrapped Completer with a token
// bucket shared by every stage running in the process.
type RateLimitedCompleter struct {
	next    Completer
	limiter *rate.Limiter
}

// NewRateLimitedCompleter wraps next with limiter.
func NewRateLimitedCompleter(next Completer, limiter *rate.Limiter) *RateLimitedCompleter {
	return &RateLimitedCompleter{next: next, limiter: limiter}
}

// Complete waits for a token, then delegates. A context that ends while
// waiting yields an error matching domain.ErrRateLimited.
func (c *RateLimitedCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: waiting for rate limiter: %w (%w)", c.next.Provider(), domain.ErrRateLimited, err)
	}
	return c.next.Complete(ctx, req)
}

func (c *RateLimitedCompleter) Provider() string { return c.next.Provider() }

func (c *RateLimitedCompleter) Model() string { return c.next.Model() }
