package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the pipeline worker.
type WorkerConfig struct {
	TaskQueue string

	// MaxConcurrentActivityExecutionSize bounds stages running at once in
	// this process. Default: 20
	MaxConcurrentActivityExecutionSize int

	// MaxConcurrentWorkflowTaskExecutionSize defaults to 50.
	MaxConcurrentWorkflowTaskExecutionSize int

	// ActivitiesPerSecond caps how fast this worker starts activities.
	// Zero leaves it unlimited; completion calls have their own limiter.
	ActivitiesPerSecond float64

	// StopTimeout is how long in-flight activities get to finish on
	// shutdown. Default: 30s
	StopTimeout time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with default values.
func DefaultWorkerConfig(taskQueue string) WorkerConfig {
	return WorkerConfig{
		TaskQueue:                              taskQueue,
		MaxConcurrentActivityExecutionSize:     20,
		MaxConcurrentWorkflowTaskExecutionSize: 50,
		StopTimeout:                            30 * time.Second,
	}
}

// workerOptionsFromConfig builds worker.Options, applying defaults for
// zero-valued fields.
func workerOptionsFromConfig(config WorkerConfig) worker.Options {
	defaults := DefaultWorkerConfig(config.TaskQueue)
	options := worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConcurrentActivityExecutionSize,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConcurrentWorkflowTaskExecutionSize,
		WorkerActivitiesPerSecond:              config.ActivitiesPerSecond,
		WorkerStopTimeout:                      config.StopTimeout,
	}

	if options.MaxConcurrentActivityExecutionSize == 0 {
		options.MaxConcurrentActivityExecutionSize = defaults.MaxConcurrentActivityExecutionSize
	}
	if options.MaxConcurrentWorkflowTaskExecutionSize == 0 {
		options.MaxConcurrentWorkflowTaskExecutionSize = defaults.MaxConcurrentWorkflowTaskExecutionSize
	}
	if options.WorkerStopTimeout == 0 {
		options.WorkerStopTimeout = defaults.StopTimeout
	}
	return options
}

// WorkerManager owns a Temporal worker and the registrations made on it.
type WorkerManager struct {
	worker     worker.Worker
	taskQueue  string
	registered int
}

// NewWorkerManager creates a worker polling config.TaskQueue.
func NewWorkerManager(c client.Client, config WorkerConfig) (*WorkerManager, error) {
	if config.TaskQueue == "" {
		return nil, fmt.Errorf("task queue is required")
	}
	return &WorkerManager{
		worker:    worker.New(c, config.TaskQueue, workerOptionsFromConfig(config)),
		taskQueue: config.TaskQueue,
	}, nil
}

// RegisterWorkflow registers a workflow function.
func (m *WorkerManager) RegisterWorkflow(workflow interface{}) {
	m.worker.RegisterWorkflow(workflow)
	m.registered++
}

// RegisterActivity registers an activity function or a struct whose
// exported methods are activities.
func (m *WorkerManager) RegisterActivity(activity interface{}) {
	m.worker.RegisterActivity(activity)
	m.registered++
}

// TaskQueue returns the configured task queue name.
func (m *WorkerManager) TaskQueue() string {
	return m.taskQueue
}

// Start runs the worker until ctx is cancelled or the worker fails.
func (m *WorkerManager) Start(ctx context.Context) error {
	if m.registered == 0 {
		return fmt.Errorf("worker on %s has nothing registered", m.taskQueue)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.worker.Run(worker.InterruptCh())
	}()

	select {
	case <-ctx.Done():
		m.worker.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Stop stops the worker gracefully.
func (m *WorkerManager) Stop() {
	m.worker.Stop()
}
