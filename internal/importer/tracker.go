package importer

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Tracker owns the lifecycle of import run records: creation, progress
// accounting, atomic completion detection, failure marking, and stuck-run
// repair. Nothing else mutates a run's status or batch counters.
type Tracker struct {
	runs   interfaces.ImportRunStorage
	logger arbor.ILogger

	// StaleAfter is how old a processing run must be before the repair
	// sweep inspects it.
	StaleAfter time.Duration

	// FailStalledAfter, when > 0, terminally fails runs that have been
	// stalled (stale but not secretly complete) for longer than this.
	// Zero leaves stalled runs processing and only logs them.
	FailStalledAfter time.Duration
}

// NewTracker creates a run tracker over the given run storage.
func NewTracker(runs interfaces.ImportRunStorage, logger arbor.ILogger) *Tracker {
	return &Tracker{
		runs:       runs,
		logger:     logger,
		StaleAfter: 10 * time.Minute,
	}
}

// HasProcessingRun reports whether a processing run exists for the source.
func (t *Tracker) HasProcessingRun(ctx context.Context, sourceURL string) (bool, error) {
	return t.runs.HasProcessingRun(ctx, sourceURL)
}

// Create initializes a new processing run and returns its ID.
func (t *Tracker) Create(ctx context.Context, sourceURL string, total, totalBatches int) (string, error) {
	run := &models.ImportRun{
		ID:           common.NewRunID(),
		FileName:     common.FileNameFromURL(sourceURL),
		SourceURL:    sourceURL,
		Timestamp:    time.Now(),
		Total:        total,
		Status:       models.RunStatusProcessing,
		TotalBatches: totalBatches,
	}
	if err := t.runs.CreateRun(ctx, run); err != nil {
		return "", err
	}

	t.logger.Info().
		Str("run_id", run.ID).
		Str("source_url", sourceURL).
		Msg("Import run created")
	return run.ID, nil
}

// UpdateCounts additively merges a worker's batch stats into the run.
// A late report against a finalized or deleted run is dropped; that is not
// an error, a worker must never resurrect a terminal record.
func (t *Tracker) UpdateCounts(ctx context.Context, runID string, stats models.ImportStats) bool {
	applied, err := t.runs.AddCounts(ctx, runID, stats)
	if err != nil {
		// Storage trouble is best-effort here: the run stays processing and
		// the repair sweep picks it up later.
		t.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to update run counts")
		return false
	}
	if !applied {
		t.logger.Debug().Str("run_id", runID).Msg("Dropped counts for finalized run")
	}
	return applied
}

// RecordBatchCompletion counts one batch outcome against the run. Returns
// whether this call completed the run.
func (t *Tracker) RecordBatchCompletion(ctx context.Context, runID string) (bool, error) {
	completedNow, err := t.runs.IncrementCompletedBatches(ctx, runID)
	if err != nil {
		return false, err
	}
	if completedNow {
		t.logger.Info().Str("run_id", runID).Msg("Import run completed")
	}
	return completedNow, nil
}

// UpdateBatchCount records the real total/batch counts once parsing has
// finished, and finalizes the run if workers already satisfied the new
// count against an earlier estimate.
func (t *Tracker) UpdateBatchCount(ctx context.Context, runID string, total, totalBatches int) error {
	completedNow, err := t.runs.SetBatchCount(ctx, runID, total, totalBatches)
	if err != nil {
		return err
	}
	if completedNow {
		t.logger.Info().Str("run_id", runID).Msg("Import run completed on batch count update")
	}
	return nil
}

// Complete finalizes a run as completed outside batch accounting (empty
// feeds and zero-batch splits).
func (t *Tracker) Complete(ctx context.Context, runID string) error {
	applied, err := t.runs.MarkCompleted(ctx, runID)
	if err != nil {
		return err
	}
	if applied {
		t.logger.Info().Str("run_id", runID).Msg("Import run completed")
	}
	return nil
}

// MarkFailed transitions a processing run to failed with the given reason.
// Idempotent: terminal runs are left untouched.
func (t *Tracker) MarkFailed(ctx context.Context, runID string, reason models.FailureReason) {
	applied, err := t.runs.MarkFailed(ctx, runID, reason)
	if err != nil {
		t.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to mark run failed")
		return
	}
	if applied {
		t.logger.Warn().
			Str("run_id", runID).
			Str("reason", reason.Reason).
			Str("error", reason.Error).
			Msg("Import run failed")
	}
}

// RepairStuckRuns sweeps processing runs older than StaleAfter:
//
//   - batch accounting already satisfied: a completion notification was
//     lost, finalize as completed
//   - empty run never finalized: finalize as completed
//   - otherwise the run is genuinely stalled (worker absent, queue
//     backlogged); it is logged as an operational signal and, only when
//     FailStalledAfter is configured and exceeded, terminally failed
//
// Returns the number of runs repaired.
func (t *Tracker) RepairStuckRuns(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-t.StaleAfter)
	stale, err := t.runs.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, run := range stale {
		switch {
		case run.TotalBatches > 0 && run.CompletedBatches >= run.TotalBatches:
			applied, err := t.runs.MarkCompleted(ctx, run.ID)
			if err != nil {
				t.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to repair completed run")
				continue
			}
			if applied {
				repaired++
				t.logger.Info().
					Str("run_id", run.ID).
					Int("total_batches", run.TotalBatches).
					Msg("Repaired stuck run: all batches were accounted for")
			}

		case run.TotalBatches == 0 && run.CompletedBatches == 0:
			applied, err := t.runs.MarkCompleted(ctx, run.ID)
			if err != nil {
				t.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to repair empty run")
				continue
			}
			if applied {
				repaired++
				t.logger.Info().Str("run_id", run.ID).Msg("Repaired stuck run: empty run finalized")
			}

		default:
			age := time.Since(run.Timestamp)
			if t.FailStalledAfter > 0 && age > t.FailStalledAfter {
				t.MarkFailed(ctx, run.ID, models.FailureReason{
					Reason: "import stalled",
					Error:  "run exceeded the stall deadline with incomplete batches",
				})
				repaired++
				continue
			}
			t.logger.Warn().
				Str("run_id", run.ID).
				Str("source_url", run.SourceURL).
				Int("completed_batches", run.CompletedBatches).
				Int("total_batches", run.TotalBatches).
				Str("age", age.Round(time.Second).String()).
				Msg("Import run appears stalled")
		}
	}

	return repaired, nil
}
