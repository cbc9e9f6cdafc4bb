package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-pipeline-service/internal/config"
	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/events"
	"github.com/helixir/research-pipeline-service/internal/repository"
)

func TestGraph(t *testing.T) {
	g, err := Graph(config.PipelineConfig{})
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStages, g.AnalysisOrder())

	_, err = Graph(config.PipelineConfig{GraphFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestGraph_FromFile(t *testing.T) {
	path := filepath.Join("..", "..", "config", "pipeline.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("pipeline.yaml not present")
	}
	g, err := Graph(config.PipelineConfig{GraphFile: path})
	require.NoError(t, err)
	assert.Len(t, g.AnalysisOrder(), len(domain.AnalysisStages))
}

func TestStoreRetry(t *testing.T) {
	r := StoreRetry(config.PipelineConfig{
		StoreRetryAttempts:       4,
		StoreRetryInitialBackoff: 100 * time.Millisecond,
		StoreRetryMaxBackoff:     time.Second,
	})
	assert.Equal(t, 4, r.Attempts)
	assert.Equal(t, 100*time.Millisecond, r.InitialInterval)
	assert.Equal(t, time.Second, r.MaxInterval)
}

func TestCompleter(t *testing.T) {
	cfg := config.LLMConfig{
		Provider:  "Anthropic",
		Timeout:   time.Minute,
		Anthropic: config.ProviderConfig{APIKey: "k", Model: "claude-sonnet-4-5"},
		RateLimit: config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 1},
	}
	c, err := Completer(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Provider())

	cfg.Provider = "mystery"
	_, err = Completer(cfg, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestChat(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			Provider:  "openai",
			Timeout:   time.Minute,
			OpenAI:    config.ProviderConfig{APIKey: "k", Model: "gpt-4o"},
			RateLimit: config.RateLimitConfig{RPS: 1, Burst: 1},
		},
		Chat: config.ChatConfig{HistoryLimit: 10, MaxMessageLength: 100, MaxTokens: 256, Timeout: time.Minute},
	}

	svc, err := Chat(cfg, repository.NewMemoryChatRepository(), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, svc)

	cfg.Chat.Enabled = true
	svc, err = Chat(cfg, repository.NewMemoryChatRepository(), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, svc)

	cfg.LLM.Provider = "mystery"
	_, err = Chat(cfg, repository.NewMemoryChatRepository(), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestEventPublisher(t *testing.T) {
	p, closeFn := EventPublisher(config.KafkaConfig{}, zerolog.Nop())
	assert.IsType(t, &events.LogPublisher{}, p)
	assert.NoError(t, closeFn())

	p, closeFn = EventPublisher(config.KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, EventsTopic: "events"}, zerolog.Nop())
	assert.IsType(t, &events.KafkaPublisher{}, p)
	assert.NoError(t, closeFn())
}

func TestDispatchHandler(t *testing.T) {
	cfg := &config.Config{Pipeline: config.PipelineConfig{DispatchConcurrency: 2, StageTimeout: time.Minute}}
	g, err := Graph(cfg.Pipeline)
	require.NoError(t, err)

	h, err := DispatchHandler(cfg, repository.NewMemoryJobRepository(nil), g, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestMetricsServer(t *testing.T) {
	cfg := &config.Config{}
	assert.Nil(t, MetricsServer(cfg))

	cfg.Metrics = config.MetricsConfig{Enabled: true, Path: "/metrics"}
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", MetricsPort: 9090}
	srv := MetricsServer(cfg)
	require.NotNil(t, srv)
	assert.Equal(t, cfg.Server.MetricsAddress(), srv.Addr)
}
