package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// BatchWorker consumes batches from the queue and applies them through the
// persistence gateway, reporting per-batch statistics to the run tracker.
// It never marks a run completed directly; completion is the tracker's
// derived decision.
type BatchWorker struct {
	queue   interfaces.QueueManager
	jobs    interfaces.JobStorage
	runs    interfaces.ImportRunStorage
	tracker *Tracker
	logger  arbor.ILogger

	// Concurrency is the number of simultaneously processed batches.
	Concurrency int
	// PollInterval is how long an idle worker sleeps between polls.
	PollInterval time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewBatchWorker creates a batch worker pool.
func NewBatchWorker(
	queue interfaces.QueueManager,
	jobs interfaces.JobStorage,
	runs interfaces.ImportRunStorage,
	tracker *Tracker,
	logger arbor.ILogger,
) *BatchWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchWorker{
		queue:        queue,
		jobs:         jobs,
		runs:         runs,
		tracker:      tracker,
		logger:       logger,
		Concurrency:  5,
		PollInterval: 1 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker goroutines. Call after all services are wired.
func (w *BatchWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		w.logger.Warn().Msg("Batch worker already running")
		return
	}
	w.running = true

	n := w.Concurrency
	if n < 1 {
		n = 1
	}
	w.logger.Info().Int("concurrency", n).Msg("Starting batch workers")

	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.loop()
	}
}

// Stop stops the workers gracefully.
func (w *BatchWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.logger.Info().Msg("Stopping batch workers...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info().Msg("Batch workers stopped")
}

func (w *BatchWorker) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		batch, delivery, err := w.queue.Receive(w.ctx)
		if err != nil {
			if err != models.ErrNoMessage {
				w.logger.Warn().Err(err).Msg("Queue receive failed")
			}
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.PollInterval):
			}
			continue
		}

		w.processDelivery(batch, delivery)
	}
}

// processDelivery handles one claimed batch end to end.
func (w *BatchWorker) processDelivery(batch *models.JobBatch, delivery *interfaces.Delivery) {
	logger := w.logger.WithCorrelationId(batch.RunID)
	logger.Info().
		Str("source_url", batch.SourceURL).
		Int("jobs", len(batch.Jobs)).
		Int("attempt", delivery.Attempt).
		Msg("Processing batch")

	if err := batch.Validate(); err != nil {
		// Malformed payloads can never succeed; drop without poisoning the
		// queue with eternal redeliveries.
		logger.Error().Err(err).Str("message_id", delivery.MessageID).Msg("Invalid batch payload")
		if err := delivery.Fail(); err != nil {
			logger.Error().Err(err).Msg("Failed to drop invalid batch")
		}
		return
	}

	// If the run record is gone (history deleted mid-flight), the batch is
	// orphaned work: acknowledge and drop it.
	run, err := w.runs.GetRun(w.ctx, batch.RunID)
	if err != nil {
		w.handleBatchError(batch, delivery, err)
		return
	}
	if run == nil {
		logger.Debug().Str("run_id", batch.RunID).Msg("Run no longer exists, dropping batch")
		if err := delivery.Ack(); err != nil {
			logger.Error().Err(err).Msg("Failed to ack orphaned batch")
		}
		return
	}

	result, err := w.jobs.UpsertJobs(w.ctx, batch.Jobs)
	if err != nil {
		w.handleBatchError(batch, delivery, err)
		return
	}

	stats := models.ImportStats{
		New:           result.New,
		Updated:       result.Updated,
		Failed:        result.Failed,
		FailedReasons: result.Failures,
	}
	w.tracker.UpdateCounts(w.ctx, batch.RunID, stats)

	if _, err := w.tracker.RecordBatchCompletion(w.ctx, batch.RunID); err != nil {
		// Best effort: the run may sit in processing until the repair
		// sweep notices the missed notification.
		logger.Warn().Err(err).Str("run_id", batch.RunID).Msg("Failed to record batch completion")
	}

	if err := delivery.Ack(); err != nil {
		logger.Error().Err(err).Str("message_id", delivery.MessageID).Msg("Failed to ack batch")
	}

	logger.Info().
		Str("run_id", batch.RunID).
		Int("new", stats.New).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Batch processed")
}

// handleBatchError applies the retry policy to an unrecoverable upsert
// error. Exhausted attempts become a terminal failure contribution: the
// whole batch counts as failed, a reason is recorded, and the run is marked
// failed so it can never silently sit in processing forever.
func (w *BatchWorker) handleBatchError(batch *models.JobBatch, delivery *interfaces.Delivery, cause error) {
	logger := w.logger.WithCorrelationId(batch.RunID)

	if !delivery.LastAttempt() {
		logger.Warn().
			Err(cause).
			Str("run_id", batch.RunID).
			Int("attempt", delivery.Attempt).
			Int("max_attempts", delivery.MaxAttempts).
			Msg("Batch failed, scheduling retry")
		if err := delivery.Retry(); err != nil {
			logger.Error().Err(err).Msg("Failed to reschedule batch")
		}
		return
	}

	logger.Error().
		Err(cause).
		Str("run_id", batch.RunID).
		Int("attempts", delivery.Attempt).
		Msg("Batch failed after exhausting retries")

	stats := models.ImportStats{
		Failed: len(batch.Jobs),
		FailedReasons: []models.FailureReason{{
			Reason: fmt.Sprintf("batch of %d jobs failed after %d attempts", len(batch.Jobs), delivery.Attempt),
			Error:  cause.Error(),
		}},
	}
	w.tracker.UpdateCounts(w.ctx, batch.RunID, stats)
	w.tracker.MarkFailed(w.ctx, batch.RunID, models.FailureReason{
		Reason: "batch processing failed",
		Error:  cause.Error(),
	})

	if err := delivery.Fail(); err != nil {
		logger.Error().Err(err).Str("message_id", delivery.MessageID).Msg("Failed to remove exhausted batch")
	}
}
