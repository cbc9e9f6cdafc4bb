package temporal

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/temporal/resilience"
)

// QueryProgress is the query name used to retrieve pipeline progress. It is
// defined here so the server layer can query workflows without importing
// the workflows package.
const QueryProgress = "progress"

// workflowIDPrefix prefixes the job id to form the workflow id. One job maps
// to exactly one workflow id, which makes duplicate dispatches collide.
const workflowIDPrefix = "research-job-"

const (
	// DefaultWorkflowExecutionTimeout is the maximum time one pipeline run is allowed to take.
	DefaultWorkflowExecutionTimeout = 2 * time.Hour

	// DefaultHealthCheckTimeout is the timeout for Temporal server health checks.
	DefaultHealthCheckTimeout = 5 * time.Second
)

var (
	// ErrWorkflowNotFound indicates the workflow execution was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyStarted indicates a workflow with the same ID is
	// running or has already run.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	// ErrQueryFailed indicates the workflow query failed.
	ErrQueryFailed = errors.New("query failed")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionFailed indicates a connection failure to the Temporal server.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrPermissionDenied indicates insufficient permissions.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted indicates resource limits have been reached.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrDeadlineExceeded indicates the operation deadline was exceeded.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// TemporalError wraps a Temporal error with the operation and workflow it
// concerns.
type TemporalError struct {
	Op         string
	Kind       error
	WorkflowID string
	RunID      string
	Err        error
}

func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s", e.WorkflowID)
		if e.RunID != "" {
			msg += fmt.Sprintf(", runID=%s", e.RunID)
		}
		msg += "]"
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError maps a Temporal SDK error onto the sentinel kinds above.
func wrapTemporalError(op string, err error, workflowID, runID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{Op: op, WorkflowID: workflowID, RunID: runID, Err: err}

	var (
		notFound          *serviceerror.NotFound
		alreadyStarted    *serviceerror.WorkflowExecutionAlreadyStarted
		namespaceNotFound *serviceerror.NamespaceNotFound
		permissionDenied  *serviceerror.PermissionDenied
		invalidArgument   *serviceerror.InvalidArgument
		resourceExhausted *serviceerror.ResourceExhausted
		deadlineExceeded  *serviceerror.DeadlineExceeded
		queryFailed       *serviceerror.QueryFailed
		unavailable       *serviceerror.Unavailable
	)

	switch {
	case errors.As(err, &notFound):
		te.Kind = ErrWorkflowNotFound
	case errors.As(err, &alreadyStarted):
		te.Kind = ErrWorkflowAlreadyStarted
	case errors.As(err, &namespaceNotFound):
		te.Kind = ErrNamespaceNotFound
	case errors.As(err, &permissionDenied):
		te.Kind = ErrPermissionDenied
	case errors.As(err, &invalidArgument):
		te.Kind = ErrInvalidArgument
	case errors.As(err, &resourceExhausted):
		te.Kind = ErrResourceExhausted
	case errors.As(err, &deadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		te.Kind = ErrDeadlineExceeded
	case errors.As(err, &queryFailed):
		te.Kind = ErrQueryFailed
	case errors.As(err, &unavailable):
		te.Kind = ErrConnectionFailed
	case errors.Is(err, context.Canceled):
		te.Kind = ErrClientClosed
	default:
		te.Kind = ErrConnectionFailed
	}

	return te
}

// IsWorkflowNotFound checks if the error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowAlreadyStarted checks if the error indicates the job's workflow
// was already started.
func IsWorkflowAlreadyStarted(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyStarted)
}

// IsConnectionFailed checks if the error indicates a connection failure.
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// TLSConfig contains TLS configuration for the Temporal client.
type TLSConfig struct {
	Enabled    bool
	CertPath   string
	KeyPath    string
	CACertPath string
	ServerName string

	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool
}

func (t *TLSConfig) buildTLSConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: t.InsecureSkipVerify,
		ServerName:         t.ServerName,
		MinVersion:         tls.VersionTLS12,
	}

	if t.CertPath != "" && t.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(t.CertPath, t.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if t.CACertPath != "" {
		caCert, err := os.ReadFile(t.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// ClientConfig contains configuration for the Temporal client.
type ClientConfig struct {
	// HostPort is the Temporal server address (e.g., "localhost:7233").
	HostPort  string
	Namespace string

	// TaskQueue is the task queue pipeline workflows are started on.
	TaskQueue string

	TLS *TLSConfig

	// HealthCheckTimeout defaults to DefaultHealthCheckTimeout.
	HealthCheckTimeout time.Duration

	// Logger receives SDK log output. Optional.
	Logger log.Logger
}

// NewClient dials the Temporal server.
func NewClient(cfg ClientConfig) (client.Client, error) {
	options := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    cfg.Logger,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := cfg.TLS.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("configure TLS: %w", err)
		}
		options.ConnectionOptions = client.ConnectionOptions{TLS: tlsConfig}
	}

	c, err := client.Dial(options)
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// PipelineInput carries the dispatch message into the pipeline workflow.
// It is defined here so the dispatcher can start workflows without importing
// the workflows package.
type PipelineInput struct {
	SessionID string
	JobID     uuid.UUID

	// Stages is the analysis stage order the workflow runs. Empty selects
	// domain.AnalysisStages.
	Stages []domain.Stage

	// StageTimeout and SynthesisTimeout bound one attempt of each stage
	// activity. Zero selects the workflow defaults.
	StageTimeout     time.Duration
	SynthesisTimeout time.Duration
}

// PipelineProgress is the result of the progress query.
type PipelineProgress struct {
	Status          string              `json:"status"`
	CurrentStage    domain.Stage        `json:"current_stage,omitempty"`
	CompletedStages []domain.Stage      `json:"completed_stages"`
	Retry           resilience.Progress `json:"retry"`
}

// WorkflowID returns the workflow id of the pipeline run for a job.
func WorkflowID(jobID uuid.UUID) string {
	return workflowIDPrefix + jobID.String()
}

// PipelineClient starts and inspects pipeline workflows.
type PipelineClient struct {
	mu                 sync.RWMutex
	client             client.Client
	taskQueue          string
	healthCheckTimeout time.Duration
	closed             bool
}

// NewPipelineClient wraps c.
func NewPipelineClient(c client.Client, cfg ClientConfig) *PipelineClient {
	timeout := cfg.HealthCheckTimeout
	if timeout == 0 {
		timeout = DefaultHealthCheckTimeout
	}
	return &PipelineClient{
		client:             c,
		taskQueue:          cfg.TaskQueue,
		healthCheckTimeout: timeout,
	}
}

// Close closes the underlying Temporal client connection.
func (c *PipelineClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && !c.closed {
		c.client.Close()
		c.closed = true
	}
}

func (c *PipelineClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Health checks the connection health to the Temporal server.
func (c *PipelineClient) Health(ctx context.Context) error {
	if c.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.healthCheckTimeout)
	defer cancel()

	if _, err := c.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "", "")
	}
	return nil
}

// StartPipeline starts the pipeline workflow for one job. The workflow
// function must be registered with the worker separately.
//
// A second start for the same job, whether the first run is still going or
// has closed, fails with ErrWorkflowAlreadyStarted.
func (c *PipelineClient) StartPipeline(ctx context.Context, input PipelineInput, workflowFunc interface{}) (workflowID, runID string, err error) {
	workflowID = WorkflowID(input.JobID)
	if c.isClosed() {
		return "", "", &TemporalError{Op: "StartPipeline", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	options := client.StartWorkflowOptions{
		ID:                                       workflowID,
		TaskQueue:                                c.taskQueue,
		WorkflowExecutionTimeout:                 DefaultWorkflowExecutionTimeout,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := c.client.ExecuteWorkflow(ctx, options, workflowFunc, input)
	if err != nil {
		return "", "", wrapTemporalError("StartPipeline", err, workflowID, "")
	}
	return workflowID, run.GetRunID(), nil
}

// QueryProgress returns the live progress of a job's pipeline run.
func (c *PipelineClient) QueryProgress(ctx context.Context, jobID uuid.UUID) (*PipelineProgress, error) {
	workflowID := WorkflowID(jobID)
	if c.isClosed() {
		return nil, &TemporalError{Op: "QueryProgress", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	resp, err := c.client.QueryWorkflow(ctx, workflowID, "", QueryProgress)
	if err != nil {
		return nil, wrapTemporalError("QueryProgress", err, workflowID, "")
	}

	var progress PipelineProgress
	if err := resp.Get(&progress); err != nil {
		return nil, &TemporalError{
			Op:         "QueryProgress",
			Kind:       ErrQueryFailed,
			WorkflowID: workflowID,
			Err:        fmt.Errorf("decode query result: %w", err),
		}
	}
	return &progress, nil
}

// TaskQueue returns the configured task queue name.
func (c *PipelineClient) TaskQueue() string {
	return c.taskQueue
}
