package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ImportRunStorage implements the ImportRunStorage interface for Badger.
//
// The conditional operations (AddCounts, IncrementCompletedBatches,
// SetBatchCount, MarkCompleted, MarkFailed) share one mutex so that a run's
// read-modify-write is atomic against concurrent workers and the repair
// sweep. This is the single serialization point the completion accounting
// depends on: without it, two workers could both observe
// completedBatches == totalBatches-1 and both finalize.
type ImportRunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewImportRunStorage creates a new ImportRunStorage instance
func NewImportRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ImportRunStorage {
	return &ImportRunStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ImportRunStorage) CreateRun(ctx context.Context, run *models.ImportRun) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.SourceURL == "" {
		return fmt.Errorf("source URL is required")
	}
	if run.Status == "" {
		run.Status = models.RunStatusProcessing
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	run.UpdatedAt = run.Timestamp

	if err := s.db.Store().Insert(run.ID, *run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *ImportRunStorage) GetRun(ctx context.Context, runID string) (*models.ImportRun, error) {
	var run models.ImportRun
	if err := s.db.Store().Get(runID, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func (s *ImportRunStorage) ListRuns(ctx context.Context, page, limit int) (*interfaces.RunListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	total, err := s.db.Store().Count(&models.ImportRun{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	query := badgerhold.Where("ID").Ne("").
		SortBy("Timestamp").Reverse().
		Skip((page - 1) * limit).
		Limit(limit)

	var runs []models.ImportRun
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return &interfaces.RunListResult{Runs: runs, Total: int(total)}, nil
}

func (s *ImportRunStorage) DeleteRun(ctx context.Context, runID string) error {
	if err := s.db.Store().Delete(runID, &models.ImportRun{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("run not found: %s", runID)
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

func (s *ImportRunStorage) DeleteAllRuns(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.ImportRun{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.ImportRun{}, nil); err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return int(count), nil
}

func (s *ImportRunStorage) HasProcessingRun(ctx context.Context, sourceURL string) (bool, error) {
	query := badgerhold.Where("Status").Eq(models.RunStatusProcessing)
	if sourceURL != "" {
		query = query.And("SourceURL").Eq(sourceURL)
	}
	count, err := s.db.Store().Count(&models.ImportRun{}, query)
	if err != nil {
		return false, fmt.Errorf("failed to query processing runs: %w", err)
	}
	return count > 0, nil
}

func (s *ImportRunStorage) AddCounts(ctx context.Context, runID string, stats models.ImportStats) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(runID)
	if err != nil {
		return false, err
	}
	// A worker's late report after finalization must not corrupt a terminal
	// record; it is dropped, not an error.
	if run == nil || run.Status != models.RunStatusProcessing {
		return false, nil
	}

	run.New += stats.New
	run.Updated += stats.Updated
	run.Failed += stats.Failed
	run.FailedReasons = append(run.FailedReasons, stats.FailedReasons...)
	run.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(run.ID, *run); err != nil {
		return false, fmt.Errorf("failed to update run counts: %w", err)
	}
	return true, nil
}

func (s *ImportRunStorage) IncrementCompletedBatches(ctx context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(runID)
	if err != nil {
		return false, err
	}
	if run == nil || run.Status != models.RunStatusProcessing {
		return false, nil
	}

	run.CompletedBatches++
	run.UpdatedAt = time.Now()

	completedNow := run.TotalBatches > 0 && run.CompletedBatches >= run.TotalBatches
	if completedNow {
		s.finalizeLocked(run, models.RunStatusCompleted)
	}

	if err := s.db.Store().Upsert(run.ID, *run); err != nil {
		return false, fmt.Errorf("failed to update run batches: %w", err)
	}
	return completedNow, nil
}

func (s *ImportRunStorage) SetBatchCount(ctx context.Context, runID string, total, totalBatches int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(runID)
	if err != nil {
		return false, err
	}
	if run == nil || run.Status != models.RunStatusProcessing {
		return false, nil
	}

	run.Total = total
	run.TotalBatches = totalBatches
	run.UpdatedAt = time.Now()

	// Workers may already have reported completions against an earlier
	// estimate, so re-check the completion condition with the real count.
	completedNow := run.CompletionSatisfied()
	if completedNow {
		s.finalizeLocked(run, models.RunStatusCompleted)
	}

	if err := s.db.Store().Upsert(run.ID, *run); err != nil {
		return false, fmt.Errorf("failed to update run batch count: %w", err)
	}
	return completedNow, nil
}

func (s *ImportRunStorage) MarkCompleted(ctx context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(runID)
	if err != nil {
		return false, err
	}
	if run == nil || run.Status != models.RunStatusProcessing {
		return false, nil
	}

	s.finalizeLocked(run, models.RunStatusCompleted)

	if err := s.db.Store().Upsert(run.ID, *run); err != nil {
		return false, fmt.Errorf("failed to finalize run: %w", err)
	}
	return true, nil
}

func (s *ImportRunStorage) MarkFailed(ctx context.Context, runID string, reason models.FailureReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(runID)
	if err != nil {
		return false, err
	}
	if run == nil || run.Status != models.RunStatusProcessing {
		return false, nil
	}

	run.FailedReasons = append(run.FailedReasons, reason)
	s.finalizeLocked(run, models.RunStatusFailed)

	if err := s.db.Store().Upsert(run.ID, *run); err != nil {
		return false, fmt.Errorf("failed to mark run failed: %w", err)
	}
	return true, nil
}

func (s *ImportRunStorage) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.ImportRun, error) {
	query := badgerhold.Where("Status").Eq(models.RunStatusProcessing).
		And("Timestamp").Lt(cutoff)

	var runs []models.ImportRun
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	return runs, nil
}

// getLocked loads a run, mapping not-found to (nil, nil) so conditional
// operations can treat a deleted run as an ignorable no-op.
func (s *ImportRunStorage) getLocked(runID string) (*models.ImportRun, error) {
	var run models.ImportRun
	if err := s.db.Store().Get(runID, &run); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// finalizeLocked stamps the terminal status and processing time exactly once.
func (s *ImportRunStorage) finalizeLocked(run *models.ImportRun, status models.RunStatus) {
	run.Status = status
	run.ProcessingTimeMS = time.Since(run.Timestamp).Milliseconds()
	run.UpdatedAt = time.Now()
}
