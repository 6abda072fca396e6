package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// failingJobStorage implements interfaces.JobStorage and always errors,
// simulating a persistently broken store.
type failingJobStorage struct{}

func (f *failingJobStorage) UpsertJobs(ctx context.Context, jobs []models.JobPosting) (*interfaces.UpsertResult, error) {
	return nil, errors.New("disk full")
}

func (f *failingJobStorage) GetJob(ctx context.Context, externalID, sourceURL string) (*models.JobPosting, error) {
	return nil, errors.New("disk full")
}

func (f *failingJobStorage) CountJobs(ctx context.Context) (int, error) {
	return 0, errors.New("disk full")
}

func TestWorkerProcessesBatchAndCompletesRun(t *testing.T) {
	manager, q := setupHarness(t)
	tracker := NewTracker(manager.ImportRunStorage(), arbor.NewLogger())
	worker := NewBatchWorker(q, manager.JobStorage(), manager.ImportRunStorage(), tracker, arbor.NewLogger())
	ctx := context.Background()

	runID, err := tracker.Create(ctx, "https://example.com/feed", 0, 0)
	require.NoError(t, err)
	require.NoError(t, tracker.UpdateBatchCount(ctx, runID, 4, 2))

	batches := SplitBatches(runID, "https://example.com/feed", makeJobs(4), 2)
	require.Len(t, batches, 2)
	for i := range batches {
		require.NoError(t, q.Enqueue(ctx, &batches[i]))
	}

	for i := 0; i < 2; i++ {
		batch, delivery, err := q.Receive(ctx)
		require.NoError(t, err)
		worker.processDelivery(batch, delivery)
	}

	run, err := manager.ImportRunStorage().GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 4, run.New)
	assert.Equal(t, 2, run.CompletedBatches)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 0, stats.Waiting)
}

func TestWorkerDropsOrphanedBatch(t *testing.T) {
	manager, q := setupHarness(t)
	tracker := NewTracker(manager.ImportRunStorage(), arbor.NewLogger())
	worker := NewBatchWorker(q, manager.JobStorage(), manager.ImportRunStorage(), tracker, arbor.NewLogger())
	ctx := context.Background()

	runID, err := tracker.Create(ctx, "https://example.com/feed", 0, 0)
	require.NoError(t, err)

	batch := models.JobBatch{RunID: runID, SourceURL: "https://example.com/feed", Jobs: makeJobs(2)}
	require.NoError(t, q.Enqueue(ctx, &batch))

	// History deleted while the batch sat in the queue.
	require.NoError(t, manager.ImportRunStorage().DeleteRun(ctx, runID))

	received, delivery, err := q.Receive(ctx)
	require.NoError(t, err)
	worker.processDelivery(received, delivery)

	// Dropped, not retried, and no job was written.
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, models.ErrNoMessage)

	count, err := manager.JobStorage().CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestWorkerFailsBatchTerminallyAfterRetries(t *testing.T) {
	manager, q := setupHarness(t)
	tracker := NewTracker(manager.ImportRunStorage(), arbor.NewLogger())
	worker := NewBatchWorker(q, &failingJobStorage{}, manager.ImportRunStorage(), tracker, arbor.NewLogger())
	ctx := context.Background()

	runID, err := tracker.Create(ctx, "https://example.com/feed", 0, 0)
	require.NoError(t, err)
	require.NoError(t, tracker.UpdateBatchCount(ctx, runID, 10, 1))

	batch := models.JobBatch{RunID: runID, SourceURL: "https://example.com/feed", Jobs: makeJobs(10)}
	require.NoError(t, q.Enqueue(ctx, &batch))

	// Drive the batch through every delivery attempt. Retries are scheduled
	// with backoff, so wait out the delay between receives.
	attempts := 0
	for {
		received, delivery, err := q.Receive(ctx)
		if errors.Is(err, models.ErrNoMessage) {
			if attempts >= 3 {
				break
			}
			continue
		}
		require.NoError(t, err)
		attempts = delivery.Attempt
		worker.processDelivery(received, delivery)
		if delivery.Attempt >= delivery.MaxAttempts {
			break
		}
	}

	run, err := manager.ImportRunStorage().GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 10, run.Failed)
	require.NotEmpty(t, run.FailedReasons)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Waiting)
}

func TestWorkerDropsInvalidBatchPayload(t *testing.T) {
	manager, q := setupHarness(t)
	tracker := NewTracker(manager.ImportRunStorage(), arbor.NewLogger())
	worker := NewBatchWorker(q, manager.JobStorage(), manager.ImportRunStorage(), tracker, arbor.NewLogger())

	failed := false
	worker.processDelivery(&models.JobBatch{}, &interfaces.Delivery{
		Attempt:     1,
		MaxAttempts: 3,
		Fail: func() error {
			failed = true
			return nil
		},
	})
	assert.True(t, failed)
}
