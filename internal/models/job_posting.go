package models

import (
	"fmt"
	"time"
)

// JobPosting is a normalized job record produced by the feed parser.
// The (ExternalID, SourceURL) pair is the natural key: upserting the same
// pair twice updates the stored record in place.
type JobPosting struct {
	ID            string     `json:"id" badgerhold:"key"` // "<externalId>|<sourceUrl>"
	ExternalID    string     `json:"external_id" badgerhold:"index"`
	SourceURL     string     `json:"source_url" badgerhold:"index"`
	Title         string     `json:"title"`
	Company       string     `json:"company"`
	Location      string     `json:"location,omitempty"`
	Description   string     `json:"description,omitempty"`
	URL           string     `json:"url,omitempty"`
	Category      string     `json:"category,omitempty"`
	Type          string     `json:"type,omitempty"`
	Region        string     `json:"region,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NaturalKey builds the storage key for a job posting.
func NaturalKey(externalID, sourceURL string) string {
	return externalID + "|" + sourceURL
}

// Validate checks the fields required for persistence.
func (j *JobPosting) Validate() error {
	if j.ExternalID == "" {
		return fmt.Errorf("external ID is required")
	}
	if j.SourceURL == "" {
		return fmt.Errorf("source URL is required")
	}
	if j.Title == "" {
		return fmt.Errorf("title is required")
	}
	if j.Company == "" {
		return fmt.Errorf("company is required")
	}
	return nil
}
