// Package bootstrap builds the collaborators shared by the server and worker
// processes from configuration.
package bootstrap

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/research-pipeline-service/internal/chat"
	"github.com/helixir/research-pipeline-service/internal/config"
	"github.com/helixir/research-pipeline-service/internal/dispatch"
	"github.com/helixir/research-pipeline-service/internal/events"
	"github.com/helixir/research-pipeline-service/internal/llm"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/pipeline"
	"github.com/helixir/research-pipeline-service/internal/repository"
	"github.com/helixir/research-pipeline-service/internal/stages"
	"github.com/helixir/research-pipeline-service/internal/temporal"
	"github.com/helixir/research-pipeline-service/internal/temporal/activities"
	"github.com/helixir/research-pipeline-service/internal/temporal/workflows"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "research_pipeline"

// Logger builds the process logger from cfg.
func Logger(cfg config.LoggingConfig, component string) zerolog.Logger {
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		AddSource:  cfg.AddSource,
		TimeFormat: cfg.TimeFormat,
	})
	return logger.With().Str("component", component).Logger()
}

// StoreRetry returns the job store retry policy.
func StoreRetry(cfg config.PipelineConfig) activities.StoreRetryConfig {
	return activities.StoreRetryConfig{
		Attempts:        cfg.StoreRetryAttempts,
		InitialInterval: cfg.StoreRetryInitialBackoff,
		MaxInterval:     cfg.StoreRetryMaxBackoff,
	}
}

// Graph loads the stage graph, falling back to the built-in linear graph.
func Graph(cfg config.PipelineConfig) (*pipeline.Graph, error) {
	g, err := pipeline.LoadGraph(cfg.GraphFile)
	if err != nil {
		return nil, fmt.Errorf("load stage graph: %w", err)
	}
	return g, nil
}

// Completer builds the instrumented, rate-limited completion client.
func Completer(cfg config.LLMConfig, metrics *observability.Metrics, logger zerolog.Logger) (llm.Completer, error) {
	fc := llm.FactoryConfig{
		Provider: strings.ToLower(cfg.Provider),
		Options: llm.ProviderOptions{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			BaseURL: cfg.Anthropic.BaseURL,
		},
	}
	if cfg.RateLimit.Enabled {
		fc.RateLimit = cfg.RateLimit.RPS
		fc.Burst = cfg.RateLimit.Burst
	}

	c, err := llm.NewCompleter(fc)
	if err != nil {
		return nil, err
	}
	return llm.NewInstrumentedCompleter(c, metrics, logger), nil
}

// EventPublisher returns the Kafka event publisher when an events topic is
// configured and a log publisher otherwise. The returned close func is never
// nil.
func EventPublisher(cfg config.KafkaConfig, logger zerolog.Logger) (events.Publisher, func() error) {
	if cfg.Enabled && cfg.EventsTopic != "" {
		p := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.Brokers,
			Topic:        cfg.EventsTopic,
			BatchTimeout: cfg.BatchTimeout,
		})
		return p, p.Close
	}
	return events.NewLogPublisher(logger), func() error { return nil }
}

// Chat builds the session chat service, or returns nil when chat is
// disabled.
func Chat(cfg *config.Config, history repository.ChatRepository, metrics *observability.Metrics, logger zerolog.Logger) (*chat.Service, error) {
	if !cfg.Chat.Enabled {
		return nil, nil
	}
	completer, err := Completer(cfg.LLM, metrics, logger)
	if err != nil {
		return nil, err
	}
	return chat.NewService(history, completer, chat.Config{
		HistoryLimit:     cfg.Chat.HistoryLimit,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		MaxTokens:        cfg.Chat.MaxTokens,
		Timeout:          cfg.Chat.Timeout,
	}, metrics, logger), nil
}

// PipelineDeps are the collaborators of the pipeline activities.
type PipelineDeps struct {
	Jobs      repository.JobRepository
	Graph     *pipeline.Graph
	Completer llm.Completer
	Events    events.Publisher
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// RegisterPipeline registers the pipeline workflow and its activities on w.
func RegisterPipeline(w *temporal.WorkerManager, cfg *config.Config, deps PipelineDeps) error {
	retry := StoreRetry(cfg.Pipeline)

	analyzer := stages.NewAnalyzer(deps.Completer, stages.AnalyzerConfig{
		WebSearch: cfg.LLM.WebSearch,
		MaxTokens: cfg.LLM.MaxTokens,
	}, deps.Logger)
	synthesizer := stages.NewSynthesizer(deps.Completer, cfg.LLM.MaxTokens, deps.Logger)

	stageAct, err := activities.NewStageActivities(deps.Jobs, deps.Graph, analyzer, synthesizer, deps.Metrics, activities.StageConfig{
		CompletionTimeout: cfg.LLM.Timeout,
		Retry:             retry,
	})
	if err != nil {
		return fmt.Errorf("create stage activities: %w", err)
	}

	w.RegisterWorkflow(workflows.ResearchPipelineWorkflow)
	w.RegisterActivity(activities.NewStatusActivities(deps.Jobs, deps.Metrics, retry))
	w.RegisterActivity(stageAct)
	w.RegisterActivity(activities.NewEventActivities(events.NewEmitter(deps.Events)))
	return nil
}

// DispatchHandler builds the work item handler that starts pipeline runs.
func DispatchHandler(cfg *config.Config, jobs repository.JobRepository, graph *pipeline.Graph, starter dispatch.PipelineStarter, metrics *observability.Metrics, logger zerolog.Logger) (*dispatch.Handler, error) {
	return dispatch.NewHandler(jobs, starter, dispatch.HandlerConfig{
		Workflow:         workflows.ResearchPipelineWorkflow,
		Stages:           graph.AnalysisOrder(),
		StageTimeout:     cfg.Pipeline.StageTimeout,
		SynthesisTimeout: cfg.Pipeline.SynthesisTimeout,
		Concurrency:      cfg.Pipeline.DispatchConcurrency,
		StoreRetries:     cfg.Pipeline.StoreRetryAttempts,
		StoreBackoff:     cfg.Pipeline.StoreRetryInitialBackoff,
	}, metrics, logger)
}

// TemporalClientConfig maps the temporal section onto the client wrapper
// configuration.
func TemporalClientConfig(cfg config.TemporalConfig, logger zerolog.Logger) temporal.ClientConfig {
	return temporal.ClientConfig{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		TaskQueue: cfg.TaskQueue,
		Logger:    observability.NewTemporalLogger(logger),
	}
}

// MetricsServer returns the Prometheus scrape server, or nil when metrics are
// disabled.
func MetricsServer(cfg *config.Config) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	return &http.Server{
		Addr:         cfg.Server.MetricsAddress(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
