// Package events publishes job lifecycle events for downstream consumers.
//
// Events are informational: the job store stays the source of truth and a
// lost event never changes a job's outcome.
package events

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

const defaultServiceName = "research-pipeline-service"

// Publisher delivers one lifecycle event.
type Publisher interface {
	Publish(ctx context.Context, event *domain.JobEvent) error
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	EventType string
	JobID     uuid.UUID
	SessionID string
	Status    domain.JobStatus
	Stage     domain.Stage
	// Payload is JSON-serialized when not nil.
	Payload interface{}
}

// Emitter validates event parameters and hands the built event to a
// Publisher.
type Emitter struct {
	publisher Publisher
}

// NewEmitter creates an Emitter.
func NewEmitter(publisher Publisher) *Emitter {
	return &Emitter{publisher: publisher}
}

// Emit builds and publishes an event.
func (e *Emitter) Emit(ctx context.Context, params EmitParams) error {
	if params.JobID == uuid.Nil {
		return domain.NewValidationError("job_id", "job ID is required")
	}
	if params.EventType == "" {
		return domain.NewValidationError("event_type", "event type is required")
	}

	event, err := domain.NewJobEvent(params.EventType, params.JobID, params.SessionID, params.Status, params.Payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", params.EventType, err)
	}
	if params.Stage != "" {
		event.WithStage(params.Stage)
	}
	return e.publisher.Publish(ctx, event)
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	ServiceName  string
}

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by job ID, so events
// of one job stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	service string
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: cfg.BatchTimeout,
	}
	return newKafkaPublisher(w, cfg.ServiceName)
}

func newKafkaPublisher(w messageWriter, service string) *KafkaPublisher {
	if service == "" {
		service = defaultServiceName
	}
	return &KafkaPublisher{writer: w, service: service}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.JobEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.JobID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(p.service)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", event.EventType, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the log. It is used when Kafka is disabled.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event *domain.JobEvent) error {
	p.logger.Info().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("job_id", event.JobID.String()).
		Str("session_id", event.SessionID).
		Str("status", string(event.Status)).
		Str("stage", string(event.Stage)).
		RawJSON("payload", payloadOrNull(event.Payload)).
		Msg("job event")
	return nil
}

func payloadOrNull(p json.RawMessage) []byte {
	if len(p) == 0 {
		return []byte("null")
	}
	return p
}
