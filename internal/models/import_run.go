package models

import (
	"time"
)

// RunStatus is the lifecycle state of an import run.
type RunStatus string

const (
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// FailureReason records one per-item or per-stage failure within a run.
type FailureReason struct {
	ItemID string `json:"item_id,omitempty"` // External ID of the failed record, if any
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// ImportRun tracks one execution of importing a single feed source.
//
// Status and batch counters are owned exclusively by the run tracker; the
// orchestrator and workers mutate them only through tracker operations.
// CompletedBatches is incremented exactly once per batch outcome and never
// decremented. The run completes when CompletedBatches >= TotalBatches with
// TotalBatches > 0, or immediately when TotalBatches == 0.
type ImportRun struct {
	ID               string          `json:"id" badgerhold:"key"`
	FileName         string          `json:"file_name"`
	SourceURL        string          `json:"source_url" badgerhold:"index"`
	Timestamp        time.Time       `json:"timestamp" badgerhold:"index"` // Creation time; also staleness reference
	Total            int             `json:"total"`
	New              int             `json:"new"`
	Updated          int             `json:"updated"`
	Failed           int             `json:"failed"`
	FailedReasons    []FailureReason `json:"failed_reasons"`
	Status           RunStatus       `json:"status" badgerhold:"index"`
	ProcessingTimeMS int64           `json:"processing_time_ms,omitempty"` // Set once, when status leaves processing
	TotalBatches     int             `json:"total_batches"`
	CompletedBatches int             `json:"completed_batches"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ImportStats is a batch worker's per-batch contribution to run counters.
type ImportStats struct {
	New           int             `json:"new"`
	Updated       int             `json:"updated"`
	Failed        int             `json:"failed"`
	FailedReasons []FailureReason `json:"failed_reasons,omitempty"`
}

// Add merges another stats value into this one.
func (s *ImportStats) Add(other ImportStats) {
	s.New += other.New
	s.Updated += other.Updated
	s.Failed += other.Failed
	s.FailedReasons = append(s.FailedReasons, other.FailedReasons...)
}

// CompletionSatisfied reports whether the run's batch accounting is done.
// An empty run (no batches) counts as complete.
func (r *ImportRun) CompletionSatisfied() bool {
	if r.TotalBatches == 0 {
		return true
	}
	return r.CompletedBatches >= r.TotalBatches
}
