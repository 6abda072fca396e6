package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// UpsertResult classifies the outcome of upserting a slice of job postings.
type UpsertResult struct {
	New      int
	Updated  int
	Failed   int
	Failures []models.FailureReason
}

// JobStorage persists job postings with idempotent upsert-by-natural-key.
type JobStorage interface {
	// UpsertJobs applies each record via upsert on (ExternalID, SourceURL),
	// classifying every record as new, updated, or failed. Per-item failures
	// do not abort the batch.
	UpsertJobs(ctx context.Context, jobs []models.JobPosting) (*UpsertResult, error)
	GetJob(ctx context.Context, externalID, sourceURL string) (*models.JobPosting, error)
	CountJobs(ctx context.Context) (int, error)
}

// RunListResult is one page of import runs plus the overall count.
type RunListResult struct {
	Runs  []models.ImportRun
	Total int
}

// ImportRunStorage owns import run records. All conditional operations are
// atomic with respect to each other: two concurrent callers never interleave
// inside a single run's read-modify-write.
type ImportRunStorage interface {
	CreateRun(ctx context.Context, run *models.ImportRun) error

	// GetRun returns (nil, nil) when no run with the ID exists.
	GetRun(ctx context.Context, runID string) (*models.ImportRun, error)

	// ListRuns returns runs sorted by creation time descending.
	ListRuns(ctx context.Context, page, limit int) (*RunListResult, error)
	DeleteRun(ctx context.Context, runID string) error
	DeleteAllRuns(ctx context.Context) (int, error)

	// HasProcessingRun reports whether a run with status processing exists
	// for the source (any source when sourceURL is empty).
	HasProcessingRun(ctx context.Context, sourceURL string) (bool, error)

	// AddCounts additively merges stats into a processing run. Returns false
	// without error when the run is missing or already terminal.
	AddCounts(ctx context.Context, runID string, stats models.ImportStats) (bool, error)

	// IncrementCompletedBatches increments CompletedBatches by one, only
	// while the run is still processing, and finalizes the run as completed
	// when the completion condition is then satisfied. Returns whether this
	// call caused completion.
	IncrementCompletedBatches(ctx context.Context, runID string) (completedNow bool, err error)

	// SetBatchCount records the actual total/batch counts after parsing and
	// re-checks completion (workers may already have reported against an
	// earlier estimate). Only applies while processing.
	SetBatchCount(ctx context.Context, runID string, total, totalBatches int) (completedNow bool, err error)

	// MarkCompleted finalizes a processing run as completed, stamping the
	// processing time. No-op (false) when already terminal or missing.
	MarkCompleted(ctx context.Context, runID string) (bool, error)

	// MarkFailed transitions processing -> failed, appending the reason and
	// stamping the processing time. Idempotent no-op when already terminal.
	MarkFailed(ctx context.Context, runID string, reason models.FailureReason) (bool, error)

	// ListStaleProcessing returns processing runs created before the cutoff.
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.ImportRun, error)
}

// StorageManager bundles the storage interfaces behind one lifecycle.
type StorageManager interface {
	JobStorage() JobStorage
	ImportRunStorage() ImportRunStorage
	Close() error
}
