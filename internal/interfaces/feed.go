package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// FeedFetcher retrieves raw feed payloads.
type FeedFetcher interface {
	// Fetch performs an HTTP GET with the configured timeout. HTTP error
	// statuses, network failures, and timeouts all surface as errors.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FeedParser turns raw feed bytes into normalized job records.
// Malformed individual entries are skipped; a payload that is not a feed at
// all surfaces as an error.
type FeedParser interface {
	Parse(data []byte, sourceURL string) ([]models.JobPosting, error)
}
