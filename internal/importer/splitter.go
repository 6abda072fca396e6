package importer

import (
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// BatchPolicy decides the batch size per feed source. Known high-volume
// hosts get a larger batch so their runs don't explode into thousands of
// queue messages.
type BatchPolicy struct {
	DefaultSize    int
	LargeFeedSize  int
	LargeFeedHosts []string
}

// SizeFor returns the batch size for a source URL.
func (p BatchPolicy) SizeFor(sourceURL string) int {
	size := p.DefaultSize
	if size <= 0 {
		size = 100
	}
	if p.LargeFeedSize > 0 && common.HostMatches(sourceURL, p.LargeFeedHosts) {
		size = p.LargeFeedSize
	}
	return size
}

// SplitBatches divides jobs into ceil(len(jobs)/size) batches of up to size
// records each, preserving input order. Pure function; an empty input yields
// no batches.
func SplitBatches(runID, sourceURL string, jobs []models.JobPosting, size int) []models.JobBatch {
	if size <= 0 {
		size = 100
	}
	if len(jobs) == 0 {
		return nil
	}

	batches := make([]models.JobBatch, 0, (len(jobs)+size-1)/size)
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		batches = append(batches, models.JobBatch{
			SourceURL: sourceURL,
			RunID:     runID,
			Jobs:      jobs[start:end],
		})
	}
	return batches
}
