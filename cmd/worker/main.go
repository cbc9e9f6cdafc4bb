// Package main provides the entry point for the research pipeline Temporal worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/helixir/research-pipeline-service/internal/bootstrap"
	"github.com/helixir/research-pipeline-service/internal/config"
	"github.com/helixir/research-pipeline-service/internal/database"
	"github.com/helixir/research-pipeline-service/internal/dispatch"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/repository"
	"github.com/helixir/research-pipeline-service/internal/temporal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := bootstrap.Logger(cfg.Logging, "worker")
	logger.Info().Msg("research-pipeline-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	graph, err := bootstrap.Graph(cfg.Pipeline)
	if err != nil {
		return err
	}
	transitions, err := graph.Transitions()
	if err != nil {
		return fmt.Errorf("build transition table: %w", err)
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	jobs := repository.NewPgJobRepository(db, transitions)

	metrics := observability.NewMetrics(bootstrap.MetricsNamespace)

	completer, err := bootstrap.Completer(cfg.LLM, metrics, logger)
	if err != nil {
		return fmt.Errorf("create completer: %w", err)
	}

	eventPublisher, closeEvents := bootstrap.EventPublisher(cfg.Kafka, logger)
	defer func() {
		if err := closeEvents(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	clientCfg := bootstrap.TemporalClientConfig(cfg.Temporal, logger)
	temporalClient, err := temporal.NewClient(clientCfg)
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	pipelineClient := temporal.NewPipelineClient(temporalClient, clientCfg)
	defer pipelineClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}
	if err := bootstrap.RegisterPipeline(manager, cfg, bootstrap.PipelineDeps{
		Jobs:      jobs,
		Graph:     graph,
		Completer: completer,
		Events:    eventPublisher,
		Metrics:   metrics,
		Logger:    logger,
	}); err != nil {
		return err
	}

	// The dispatch consumer turns queued work items into pipeline runs.
	if cfg.Kafka.Enabled {
		handler, err := bootstrap.DispatchHandler(cfg, jobs, graph, pipelineClient, metrics, logger)
		if err != nil {
			return fmt.Errorf("create dispatch handler: %w", err)
		}
		consumer := dispatch.NewConsumer(dispatch.ConsumerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.DispatchTopic,
			GroupID:      cfg.Kafka.ConsumerGroup,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, handler, metrics, logger)
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close dispatch consumer")
			}
		}()

		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("dispatch consumer error")
				stop()
			}
		}()

		logger.Info().
			Str("topic", cfg.Kafka.DispatchTopic).
			Str("group_id", cfg.Kafka.ConsumerGroup).
			Msg("dispatch consumer started")
	}

	if metricsServer := bootstrap.MetricsServer(cfg); metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
		}()
	}

	logger.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Msg("starting temporal worker")

	if err := manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped via signal")
			return nil
		}
		return fmt.Errorf("worker error: %w", err)
	}

	return nil
}
