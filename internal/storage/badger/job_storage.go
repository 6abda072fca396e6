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

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serializes the get-then-upsert per record so two workers delivering
	// the same posting concurrently cannot both classify it as new.
	mu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) UpsertJobs(ctx context.Context, jobs []models.JobPosting) (*interfaces.UpsertResult, error) {
	result := &interfaces.UpsertResult{}

	for i := range jobs {
		isNew, err := s.upsertOne(&jobs[i])
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, models.FailureReason{
				ItemID: jobs[i].ExternalID,
				Reason: "database error",
				Error:  err.Error(),
			})
			continue
		}
		if isNew {
			result.New++
		} else {
			result.Updated++
		}
	}

	return result, nil
}

func (s *JobStorage) upsertOne(job *models.JobPosting) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.NaturalKey(job.ExternalID, job.SourceURL)
	now := time.Now()

	var existing models.JobPosting
	err := s.db.Store().Get(key, &existing)
	switch err {
	case nil:
		job.ID = key
		job.CreatedAt = existing.CreatedAt
		job.UpdatedAt = now
		if err := s.db.Store().Upsert(key, *job); err != nil {
			return false, fmt.Errorf("failed to update job: %w", err)
		}
		return false, nil
	case badgerhold.ErrNotFound:
		job.ID = key
		job.CreatedAt = now
		job.UpdatedAt = now
		if err := s.db.Store().Upsert(key, *job); err != nil {
			return false, fmt.Errorf("failed to insert job: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("failed to look up job: %w", err)
	}
}

func (s *JobStorage) GetJob(ctx context.Context, externalID, sourceURL string) (*models.JobPosting, error) {
	var job models.JobPosting
	key := models.NaturalKey(externalID, sourceURL)
	if err := s.db.Store().Get(key, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.JobPosting{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}
