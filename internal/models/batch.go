package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoMessage is returned when the queue has no visible batches
var ErrNoMessage = errors.New("no batches in queue")

// JobBatch is the unit of queued work: a bounded slice of one run's parsed
// records. Batches have no identity beyond the queue's own message identity
// and must tolerate duplicate delivery (the job upsert is idempotent).
type JobBatch struct {
	SourceURL string       `json:"source_url"`
	RunID     string       `json:"run_id"`
	Jobs      []JobPosting `json:"jobs"`
}

// ToJSON serializes the batch for queue storage
func (b *JobBatch) ToJSON() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}
	return data, nil
}

// JobBatchFromJSON deserializes a batch from queue storage
func JobBatchFromJSON(data []byte) (*JobBatch, error) {
	var batch JobBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	return &batch, nil
}

// Validate validates the queued batch
func (b *JobBatch) Validate() error {
	if b.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if b.SourceURL == "" {
		return fmt.Errorf("source URL is required")
	}
	return nil
}
