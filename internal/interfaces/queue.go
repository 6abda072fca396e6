package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// QueueStats mirrors the queue's delivery counters.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Delivery is one received batch plus its redelivery bookkeeping.
// Exactly one of Ack, Retry, or Fail must be called per delivery.
type Delivery struct {
	MessageID   string
	Attempt     int // 1-based receive count for this delivery
	MaxAttempts int

	// Ack removes the message from the queue after successful processing.
	Ack func() error
	// Retry reschedules the message with exponential backoff. Returns an
	// error when attempts are exhausted; callers should then Fail.
	Retry func() error
	// Fail removes the message and records it in the failed counter.
	Fail func() error
}

// LastAttempt reports whether no retries remain after this delivery.
func (d *Delivery) LastAttempt() bool {
	return d.Attempt >= d.MaxAttempts
}

// QueueManager is the narrow contract over the durable work queue: at-least-
// once delivery with per-message retry and backoff.
type QueueManager interface {
	// Enqueue adds a batch to the queue, immediately visible.
	Enqueue(ctx context.Context, batch *models.JobBatch) error

	// Receive claims the next visible batch, making it invisible for the
	// visibility timeout. Returns models.ErrNoMessage when nothing is ready.
	Receive(ctx context.Context) (*models.JobBatch, *Delivery, error)

	// Stats returns waiting/active/completed/failed counts.
	Stats(ctx context.Context) (*QueueStats, error)

	// RemoveByRunID deletes all not-yet-acknowledged batches for a run.
	// Used when a run's history is deleted, so orphaned work never writes
	// to a deleted record.
	RemoveByRunID(ctx context.Context, runID string) (int, error)

	// DrainAll removes every message and resets the counters.
	DrainAll(ctx context.Context) error

	Close() error
}
