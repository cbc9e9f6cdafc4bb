package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/helixir/research-pipeline-service/internal/events"
)

// EventEmitter is the interface used by EventActivities to publish events.
// This decouples the activity from the concrete events.Emitter,
// enabling straightforward testing with mock implementations.
type EventEmitter interface {
	Emit(ctx context.Context, params events.EmitParams) error
}

// EventActivities provides Temporal activities for publishing job lifecycle
// events.
//
// Methods on this struct are registered as Temporal activities via the worker.
type EventActivities struct {
	emitter EventEmitter
}

// NewEventActivities creates a new EventActivities with the given emitter.
func NewEventActivities(emitter EventEmitter) *EventActivities {
	return &EventActivities{emitter: emitter}
}

// PublishEvent publishes a lifecycle event.
//
// This activity is called with fire-and-forget semantics from the workflow;
// a publishing failure never fails the job.
func (a *EventActivities) PublishEvent(ctx context.Context, input PublishEventInput) error {
	logger := activity.GetLogger(ctx)

	params := events.EmitParams{
		EventType: input.EventType,
		JobID:     input.JobID,
		SessionID: input.SessionID,
		Status:    input.Status,
		Stage:     input.Stage,
	}
	if input.Payload != nil {
		params.Payload = input.Payload
	}

	if err := a.emitter.Emit(ctx, params); err != nil {
		logger.Error("failed to publish event",
			"eventType", input.EventType,
			"jobID", input.JobID,
			"error", err,
		)
		return fmt.Errorf("publish event %s: %w", input.EventType, err)
	}

	logger.Debug("event published", "eventType", input.EventType, "jobID", input.JobID)
	return nil
}
