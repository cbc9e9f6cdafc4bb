package llm

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxResponseBytes  = 10 << 20
	defaultTimeout    = 5 * time.Minute
	defaultRetryDelay = 2 * time.Second
)

// ProviderOptions are the settings shared by every provider.
type ProviderOptions struct {
	Temperature float64
	// MaxTokens caps the answer length (0 = provider default).
	MaxTokens int
	// Timeout bounds one HTTP exchange.
	Timeout    time.Duration
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
}

func (o ProviderOptions) withDefaults() ProviderOptions {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	return o
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// FactoryConfig holds the parameters needed to create a Completer. It is
// defined here so the llm package stays free of the config package.
type FactoryConfig struct {
	// Provider is the provider name ("openai" or "anthropic").
	Provider  string
	Options   ProviderOptions
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig

	// RateLimit is the sustained request rate per second. 0 disables limiting.
	RateLimit float64
	// Burst is the token bucket size used with RateLimit.
	Burst int
}

// NewCompleter creates a Completer based on the configuration, wrapped in a
// rate limiter when RateLimit is positive. Returns an error for unsupported
// or empty provider values.
func NewCompleter(cfg FactoryConfig) (Completer, error) {
	var c Completer
	switch cfg.Provider {
	case "openai":
		c = NewOpenAIProvider(cfg.OpenAI, cfg.Options)
	case "anthropic":
		c = NewAnthropicProvider(cfg.Anthropic, cfg.Options)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c = NewRateLimitedCompleter(c, rate.NewLimiter(rate.Limit(cfg.RateLimit), burst))
	}
	return c, nil
}
