// Package dispatch moves {session_id, job_id} work items from intake to the
// orchestrator.
//
// Delivery is at-least-once. A consumer may see the same item more than
// once, late, or concurrently with another consumer; Handler re-reads the
// job and discards any item whose job is no longer CREATED.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// WorkItem is the queue envelope for one job.
type WorkItem struct {
	SessionID string    `json:"session_id"`
	JobID     uuid.UUID `json:"job_id"`
}

// Validate reports whether the item names a job.
func (w WorkItem) Validate() error {
	if w.SessionID == "" {
		return domain.NewValidationError("session_id", "session ID is required")
	}
	if w.JobID == uuid.Nil {
		return domain.NewValidationError("job_id", "job ID is required")
	}
	return nil
}

// DecodeWorkItem parses a queue message value.
func DecodeWorkItem(data []byte) (WorkItem, error) {
	var item WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return WorkItem{}, domain.NewValidationError("work_item", fmt.Sprintf("malformed work item: %v", err))
	}
	if err := item.Validate(); err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// Publisher enqueues work items.
type Publisher interface {
	Publish(ctx context.Context, item WorkItem) error
}

// KafkaPublisherConfig configures a KafkaPublisher.
type KafkaPublisherConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes work items to the dispatch topic keyed by job ID.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a KafkaPublisher. Writes wait for all in-sync
// replicas so an acknowledged intake is never lost.
func NewKafkaPublisher(cfg KafkaPublisherConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
	}}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, item WorkItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	msg := kafka.Message{Key: []byte(item.JobID.String()), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return domain.NewStoreError("enqueue work item", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// itemHandler is implemented by *Handler.
type itemHandler interface {
	Handle(ctx context.Context, item WorkItem) (Outcome, error)
}

// DirectPublisher hands work items to a Handler in the calling process. It
// is meant for local development without a broker.
type DirectPublisher struct {
	handler itemHandler
	logger  zerolog.Logger
}

// NewDirectPublisher creates a DirectPublisher.
func NewDirectPublisher(handler *Handler, logger zerolog.Logger) *DirectPublisher {
	return &DirectPublisher{
		handler: handler,
		logger:  logger.With().Str("component", "direct_dispatch").Logger(),
	}
}

// Publish implements Publisher. The item is handled before Publish returns
// but outlives the caller's cancellation.
func (p *DirectPublisher) Publish(ctx context.Context, item WorkItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	outcome, err := p.handler.Handle(context.WithoutCancel(ctx), item)
	if err != nil {
		return fmt.Errorf("dispatch job %s: %w", item.JobID, err)
	}
	p.logger.Debug().
		Str("job_id", item.JobID.String()).
		Str("outcome", string(outcome)).
		Msg("work item handled in-process")
	return nil
}
