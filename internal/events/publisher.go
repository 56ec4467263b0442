// Package events publishes job lifecycle notifications to RabbitMQ so
// downstream consumers (billing, analytics) can follow conversions without
// polling the HTTP API.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/shared/rabbitmq"
)

// Event is one lifecycle notification.
type Event struct {
	JobID      string       `json:"job_id"`
	Status     string       `json:"status"`
	Progress   int          `json:"progress"`
	Failure    *job.Failure `json:"failure,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Publisher emits lifecycle events for terminal jobs.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher on top of a connected client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// Publish emits one event, retrying transient broker errors.
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.PublishWithRetry(ctx, body, "application/json")
}

// TerminalHook adapts the publisher to the registry's terminal hook. A
// publish failure never affects the job outcome.
func (p *Publisher) TerminalHook() job.TerminalHook {
	return func(j job.Job) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		evt := Event{
			JobID:      j.ID,
			Status:     string(j.Status),
			Progress:   j.Progress,
			Failure:    j.Err,
			OccurredAt: time.Now(),
		}
		if err := p.Publish(ctx, evt); err != nil {
			p.logger.Error("Failed to publish lifecycle event",
				slog.String("job_id", j.ID),
				slog.Any("error", err),
			)
		}
	}
}
