package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/repository"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestDecodeWorkItem(t *testing.T) {
	id := uuid.New()

	item, err := DecodeWorkItem([]byte(`{"session_id":"s1","job_id":"` + id.String() + `"}`))
	require.NoError(t, err)
	assert.Equal(t, WorkItem{SessionID: "s1", JobID: id}, item)

	for name, raw := range map[string]string{
		"not json":        `{`,
		"missing session": `{"job_id":"` + id.String() + `"}`,
		"missing job":     `{"session_id":"s1"}`,
		"bad uuid":        `{"session_id":"s1","job_id":"nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeWorkItem([]byte(raw))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w}
	item := WorkItem{SessionID: "s1", JobID: uuid.New()}

	require.NoError(t, p.Publish(context.Background(), item))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, item.JobID.String(), string(w.msgs[0].Key))

	var decoded WorkItem
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, item, decoded)

	assert.ErrorIs(t, p.Publish(context.Background(), WorkItem{}), domain.ErrInvalidInput)

	w.err = errors.New("broker down")
	assert.ErrorIs(t, p.Publish(context.Background(), item), domain.ErrStore)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestDirectPublisher_Publish(t *testing.T) {
	repo := repository.NewMemoryJobRepository(nil)
	starter := newFakeStarter()
	p := NewDirectPublisher(newTestHandler(t, repo, starter), zerolog.Nop())
	item := createJob(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Publish(ctx, item))
	assert.Equal(t, 1, starter.count())

	p = NewDirectPublisher(newTestHandler(t, brokenStore{}, starter), zerolog.Nop())
	assert.ErrorIs(t, p.Publish(context.Background(), item), domain.ErrStore)
}

// scriptedReader returns queued messages, then blocks until ctx is done.
type scriptedReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	commitErr error
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return r.commitErr
}

func (r *scriptedReader) Close() error { return nil }

func (r *scriptedReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingBatchHandler struct {
	mu      sync.Mutex
	batches [][]WorkItem
	err     error
}

func (h *recordingBatchHandler) HandleBatch(_ context.Context, items []WorkItem) ([]Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, items)
	out := make([]Result, len(items))
	for i, item := range items {
		out[i] = Result{Item: item, Outcome: OutcomeStarted}
	}
	return out, h.err
}

func message(t *testing.T, offset int64, item WorkItem) kafka.Message {
	t.Helper()
	b, err := json.Marshal(item)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumer_Run(t *testing.T) {
	t.Run("settles and commits batches", func(t *testing.T) {
		a := WorkItem{SessionID: "s1", JobID: uuid.New()}
		b := WorkItem{SessionID: "s1", JobID: uuid.New()}
		c := WorkItem{SessionID: "s2", JobID: uuid.New()}
		reader := &scriptedReader{queue: []kafka.Message{
			message(t, 1, a),
			{Offset: 2, Value: []byte("garbage")},
			message(t, 3, b),
			message(t, 4, c),
		}}
		handler := &recordingBatchHandler{}
		consumer := newConsumer(reader, handler, ConsumerConfig{BatchSize: 3, BatchTimeout: 20 * time.Millisecond}, nil, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- consumer.Run(ctx) }()

		require.Eventually(t, func() bool { return reader.committedCount() == 4 }, 2*time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		handler.mu.Lock()
		defer handler.mu.Unlock()
		require.Len(t, handler.batches, 2)
		assert.Equal(t, []WorkItem{a, b}, handler.batches[0])
		assert.Equal(t, []WorkItem{c}, handler.batches[1])
	})

	t.Run("defect stops the consumer without commit", func(t *testing.T) {
		reader := &scriptedReader{queue: []kafka.Message{message(t, 1, WorkItem{SessionID: "s1", JobID: uuid.New()})}}
		handler := &recordingBatchHandler{err: errors.New("dispatch: panic handling job")}
		consumer := newConsumer(reader, handler, ConsumerConfig{BatchSize: 1}, nil, zerolog.Nop())

		err := consumer.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
		assert.Zero(t, reader.committedCount())
	})
}
