// Package main provides the entry point for the research pipeline HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/helixir/research-pipeline-service/internal/bootstrap"
	"github.com/helixir/research-pipeline-service/internal/config"
	"github.com/helixir/research-pipeline-service/internal/database"
	"github.com/helixir/research-pipeline-service/internal/dispatch"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/pipeline"
	"github.com/helixir/research-pipeline-service/internal/repository"
	httpserver "github.com/helixir/research-pipeline-service/internal/server/http"
	"github.com/helixir/research-pipeline-service/internal/temporal"
)

const healthServiceName = "research.v1.PipelineService"

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

func main() {
	store := flag.String("store", storePostgres, "job store backend: postgres or memory (memory runs the worker in-process)")
	flag.Parse()

	if err := run(*store); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(store string) error {
	if store != storePostgres && store != storeMemory {
		return fmt.Errorf("unknown store %q", store)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := bootstrap.Logger(cfg.Logging, "server")
	logger.Info().Str("store", store).Msg("research-pipeline-service server starting")

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

	metrics := observability.NewMetrics(bootstrap.MetricsNamespace)

	var (
		jobs      repository.JobRepository
		history   repository.ChatRepository
		readiness httpserver.HealthChecker
	)
	if store == storeMemory {
		jobs = repository.NewMemoryJobRepository(transitions)
		history = repository.NewMemoryChatRepository()
		logger.Warn().Msg("using in-memory job store; jobs are lost on restart")
	} else {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := database.MigrateUp(db, cfg.Database.MigrationPath, logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		jobs = repository.NewPgJobRepository(db, transitions)
		history = repository.NewPgChatRepository(db)
		readiness = db
	}

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

	errCh := make(chan error, 4)

	// The memory store is not visible to other processes, so the worker
	// runs here and items are handed over in-process.
	if store == storeMemory {
		if err := startEmbeddedWorker(ctx, cfg, jobs, graph, metrics, logger, temporalClient, errCh); err != nil {
			return err
		}
	}

	publisher, closePublisher, err := newDispatchPublisher(cfg, store, jobs, graph, pipelineClient, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePublisher(); err != nil {
			logger.Error().Err(err).Msg("failed to close dispatch publisher")
		}
	}()

	grpcServer := grpc.NewServer(
		grpc.MaxConcurrentStreams(100),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	grpcAddr := cfg.Server.GRPCAddress()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    0, // progress streams stay open
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		StreamInterval:  cfg.Server.StreamPollInterval,
	}
	httpSrv := httpserver.NewServer(httpCfg, jobs, publisher, pipelineClient, readiness, metrics, logger)

	chatService, err := bootstrap.Chat(cfg, history, metrics, logger)
	if err != nil {
		return fmt.Errorf("create chat service: %w", err)
	}
	if chatService != nil {
		httpSrv.WithChat(chatService)
	}

	metricsServer := bootstrap.MetricsServer(cfg)

	go func() {
		logger.Info().Str("address", grpcAddr).Msg("gRPC health server starting")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	go func() {
		logger.Info().Str("address", httpCfg.Address).Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("grpc_address", grpcAddr).
		Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("research-pipeline-service is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down research-pipeline-service")
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info().Msg("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("gRPC server forced shutdown due to timeout")
		grpcServer.Stop()
	}

	logger.Info().Msg("research-pipeline-service shutdown complete")
	return nil
}

// newDispatchPublisher returns the Kafka work queue publisher when Kafka is
// enabled for a shared store, and an in-process publisher otherwise.
func newDispatchPublisher(
	cfg *config.Config,
	store string,
	jobs repository.JobRepository,
	graph *pipeline.Graph,
	starter dispatch.PipelineStarter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (dispatch.Publisher, func() error, error) {
	if cfg.Kafka.Enabled && store == storePostgres {
		p := dispatch.NewKafkaPublisher(dispatch.KafkaPublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.DispatchTopic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		logger.Info().Str("topic", cfg.Kafka.DispatchTopic).Msg("dispatching work items through kafka")
		return p, p.Close, nil
	}

	handler, err := bootstrap.DispatchHandler(cfg, jobs, graph, starter, metrics, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create dispatch handler: %w", err)
	}
	logger.Info().Msg("dispatching work items in-process")
	return dispatch.NewDirectPublisher(handler, logger), func() error { return nil }, nil
}

func startEmbeddedWorker(
	ctx context.Context,
	cfg *config.Config,
	jobs repository.JobRepository,
	graph *pipeline.Graph,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	temporalClient client.Client,
	errCh chan<- error,
) error {
	completer, err := bootstrap.Completer(cfg.LLM, metrics, logger)
	if err != nil {
		return fmt.Errorf("create completer: %w", err)
	}
	eventPublisher, closeEvents := bootstrap.EventPublisher(cfg.Kafka, logger)

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

	go func() {
		defer func() {
			if err := closeEvents(); err != nil {
				logger.Error().Err(err).Msg("failed to close event publisher")
			}
		}()
		logger.Info().Str("task_queue", cfg.Temporal.TaskQueue).Msg("embedded temporal worker starting")
		if err := manager.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("worker error: %w", err)
		}
	}()
	return nil
}
