package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/models"
)

func setupTestQueue(t *testing.T, config Config) *BadgerManager {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if config.QueueName == "" {
		config.QueueName = "test_batches"
	}

	manager, err := NewBadgerManager(db, config)
	require.NoError(t, err)
	return manager
}

func testBatch(runID string, jobCount int) *models.JobBatch {
	jobs := make([]models.JobPosting, jobCount)
	for i := range jobs {
		jobs[i] = models.JobPosting{
			ExternalID: "job",
			SourceURL:  "https://example.com/feed",
			Title:      "Engineer",
			Company:    "Acme",
		}
	}
	return &models.JobBatch{
		RunID:     runID,
		SourceURL: "https://example.com/feed",
		Jobs:      jobs,
	}
}

func TestEnqueueReceiveAck(t *testing.T) {
	q := setupTestQueue(t, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 3)))

	batch, delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run_1", batch.RunID)
	assert.Len(t, batch.Jobs, 3)
	assert.Equal(t, 1, delivery.Attempt)

	require.NoError(t, delivery.Ack())

	// Queue is empty after ack.
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Waiting)
}

func TestReceiveClaimsMessage(t *testing.T) {
	q := setupTestQueue(t, Config{VisibilityTimeout: time.Minute})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	// Claimed messages are invisible to other receivers.
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 0, stats.Waiting)
}

func TestStatsCountBackoffParkedAsWaiting(t *testing.T) {
	q := setupTestQueue(t, Config{
		VisibilityTimeout: time.Minute,
		MaxAttempts:       3,
		BackoffBase:       time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))

	_, delivery, err := q.Receive(ctx)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 0, stats.Waiting)

	// A retried message sits in backoff, nobody is working on it.
	require.NoError(t, delivery.Retry())

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Waiting)
}

func TestRedeliveryAfterVisibilityTimeout(t *testing.T) {
	q := setupTestQueue(t, Config{VisibilityTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))

	_, first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)

	// Simulate a crashed worker: no ack, wait past the visibility timeout.
	time.Sleep(30 * time.Millisecond)

	_, second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)
}

func TestRetryBackoffAndMaxAttempts(t *testing.T) {
	q := setupTestQueue(t, Config{
		VisibilityTimeout: time.Minute,
		MaxAttempts:       3,
		BackoffBase:       10 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))

	for attempt := 1; attempt < 3; attempt++ {
		_, delivery, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, attempt, delivery.Attempt)
		assert.False(t, delivery.LastAttempt())

		require.NoError(t, delivery.Retry())

		// Invisible until the backoff elapses.
		_, _, err = q.Receive(ctx)
		assert.ErrorIs(t, err, models.ErrNoMessage)

		time.Sleep(q.backoffDelay(attempt) + 20*time.Millisecond)
	}

	_, final, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, final.Attempt)
	assert.True(t, final.LastAttempt())

	// Retrying an exhausted delivery is refused; the caller must Fail it.
	assert.ErrorIs(t, final.Retry(), ErrMaxAttempts)
	require.NoError(t, final.Fail())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestReceiveOrdering(t *testing.T) {
	q := setupTestQueue(t, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, testBatch("run_2", 1)))

	batch, delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run_1", batch.RunID)
	require.NoError(t, delivery.Ack())

	batch, delivery, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run_2", batch.RunID)
	require.NoError(t, delivery.Ack())
}

func TestRemoveByRunID(t *testing.T) {
	q := setupTestQueue(t, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))
	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))
	require.NoError(t, q.Enqueue(ctx, testBatch("run_2", 1)))

	removed, err := q.RemoveByRunID(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	batch, delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run_2", batch.RunID)
	require.NoError(t, delivery.Ack())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestDrainAll(t *testing.T) {
	q := setupTestQueue(t, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testBatch("run_1", 1)))
	require.NoError(t, q.Enqueue(ctx, testBatch("run_2", 1)))

	batch, delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.NoError(t, delivery.Ack())

	require.NoError(t, q.DrainAll(ctx))

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
}

func TestEnqueueRejectsInvalidBatch(t *testing.T) {
	q := setupTestQueue(t, Config{})

	err := q.Enqueue(context.Background(), &models.JobBatch{SourceURL: "https://example.com/feed"})
	assert.Error(t, err)
}
