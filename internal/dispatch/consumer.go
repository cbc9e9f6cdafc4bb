package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/research-pipeline-service/internal/observability"
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// BatchSize is the maximum number of messages settled together.
	BatchSize int

	// BatchTimeout is how long to wait for a batch to fill once its first
	// message arrived.
	BatchTimeout time.Duration
}

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type batchHandler interface {
	HandleBatch(ctx context.Context, items []WorkItem) ([]Result, error)
}

// Consumer reads work items from the dispatch topic in batches and commits
// each batch once every item in it has been settled.
type Consumer struct {
	reader  messageReader
	handler batchHandler
	cfg     ConsumerConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewConsumer creates a Consumer reading cfg.Topic as part of cfg.GroupID.
func NewConsumer(cfg ConsumerConfig, handler *Handler, metrics *observability.Metrics, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newConsumer(reader, handler, cfg, metrics, logger)
}

func newConsumer(reader messageReader, handler batchHandler, cfg ConsumerConfig, metrics *observability.Metrics, logger zerolog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 500 * time.Millisecond
	}
	return &Consumer{
		reader:  reader,
		handler: handler,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "dispatch_consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled. It returns ctx.Err() on shutdown and
// a non-nil error when a batch could not be settled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().Str("topic", c.cfg.Topic).Msg("starting dispatch consumer")

	for {
		msgs, err := c.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("dispatch consumer stopped via context cancellation")
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}
		if err := c.settle(ctx, msgs); err != nil {
			return err
		}
	}
}

// fetchBatch blocks for the first message, then collects more until the
// batch is full or BatchTimeout passes.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	fillCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()
	for len(msgs) < c.cfg.BatchSize {
		msg, err := c.reader.FetchMessage(fillCtx)
		if err != nil {
			// Unsettled messages are redelivered after restart.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				c.logger.Warn().Err(err).Msg("fetch failed while filling batch")
			}
			break
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// settle handles one batch and commits it. Malformed messages are logged,
// counted and committed with the rest.
func (c *Consumer) settle(ctx context.Context, msgs []kafka.Message) error {
	items := make([]WorkItem, 0, len(msgs))
	for _, msg := range msgs {
		item, err := DecodeWorkItem(msg.Value)
		if err != nil {
			c.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Str("raw_value", string(msg.Value)).
				Msg("discarding malformed work item")
			c.metrics.RecordDispatch("malformed")
			continue
		}
		items = append(items, item)
	}

	results, err := c.handler.HandleBatch(ctx, items)
	if err != nil {
		return fmt.Errorf("handle dispatch batch: %w", err)
	}

	var unsettled int
	for _, r := range results {
		if r.Err != nil {
			unsettled++
		}
	}
	if unsettled > 0 {
		c.logger.Warn().
			Int("total", len(results)).
			Int("unsettled", unsettled).
			Msg("some work items could not be settled")
	}

	// Commit outlives shutdown so a settled batch is not redelivered.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(commitCtx, msgs...); err != nil {
		c.logger.Error().Err(err).Int("count", len(msgs)).Msg("failed to commit dispatch batch")
	}
	return nil
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	c.logger.Info().Msg("closing dispatch consumer")
	return c.reader.Close()
}
