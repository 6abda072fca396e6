package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// mockFetcher implements interfaces.FeedFetcher for testing
type mockFetcher struct {
	fetchFunc func(ctx context.Context, url string) ([]byte, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, url)
	}
	return []byte("feed"), nil
}

// mockParser implements interfaces.FeedParser for testing
type mockParser struct {
	parseFunc func(data []byte, sourceURL string) ([]models.JobPosting, error)
}

func (m *mockParser) Parse(data []byte, sourceURL string) ([]models.JobPosting, error) {
	if m.parseFunc != nil {
		return m.parseFunc(data, sourceURL)
	}
	return nil, nil
}

func newTestOrchestrator(t *testing.T, fetcher *mockFetcher, parser *mockParser, sources ...string) (*Orchestrator, *Tracker) {
	t.Helper()

	manager, q := setupHarness(t)
	tracker := NewTracker(manager.ImportRunStorage(), arbor.NewLogger())

	o := NewOrchestrator(
		fetcher,
		parser,
		q,
		tracker,
		BatchPolicy{DefaultSize: 100},
		sources,
		arbor.NewLogger(),
	)
	return o, tracker
}

func TestTriggerSourceEnqueuesBatches(t *testing.T) {
	parser := &mockParser{
		parseFunc: func(data []byte, sourceURL string) ([]models.JobPosting, error) {
			return makeJobs(250), nil
		},
	}
	o, tracker := newTestOrchestrator(t, &mockFetcher{}, parser)
	ctx := context.Background()

	result := o.TriggerSource(ctx, "https://example.com/feed")
	require.True(t, result.Started)
	assert.NotEmpty(t, result.RunID)
	o.Wait()

	run, err := tracker.runs.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusProcessing, run.Status)
	assert.Equal(t, 250, run.Total)
	assert.Equal(t, 3, run.TotalBatches)

	stats, err := o.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Waiting)
}

func TestTriggerSourceGuardsActiveRuns(t *testing.T) {
	block := make(chan struct{})
	fetcher := &mockFetcher{
		fetchFunc: func(ctx context.Context, url string) ([]byte, error) {
			<-block
			return nil, errors.New("aborted")
		},
	}
	o, _ := newTestOrchestrator(t, fetcher, &mockParser{})
	ctx := context.Background()

	first := o.TriggerSource(ctx, "https://example.com/feed")
	require.True(t, first.Started)

	// While the first import is in flight, the same source is refused.
	second := o.TriggerSource(ctx, "https://example.com/feed")
	assert.False(t, second.Started)
	assert.Empty(t, second.RunID)

	// A different source is unaffected by the guard.
	other := o.TriggerSource(ctx, "https://other.example.com/feed")
	assert.True(t, other.Started)

	close(block)
	o.Wait()
}

func TestConcurrentTriggersStartOneRun(t *testing.T) {
	block := make(chan struct{})
	fetcher := &mockFetcher{
		fetchFunc: func(ctx context.Context, url string) ([]byte, error) {
			<-block
			return nil, errors.New("aborted")
		},
	}
	o, _ := newTestOrchestrator(t, fetcher, &mockParser{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.TriggerSource(ctx, "https://example.com/feed").Started {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(block)
	o.Wait()

	// The guard serializes check-then-create, so exactly one trigger wins.
	assert.Equal(t, 1, started)
}

func TestTriggerAllCoversAllSources(t *testing.T) {
	parser := &mockParser{
		parseFunc: func(data []byte, sourceURL string) ([]models.JobPosting, error) {
			return makeJobs(1), nil
		},
	}
	o, _ := newTestOrchestrator(t, &mockFetcher{}, parser,
		"https://one.example.com/feed",
		"https://two.example.com/feed",
	)

	summary := o.TriggerAll(context.Background())
	assert.Equal(t, 2, summary.Scheduled)
	assert.Equal(t, 0, summary.Skipped)
	assert.Len(t, summary.Results, 2)
	o.Wait()
}

func TestEmptyFeedCompletesImmediately(t *testing.T) {
	o, tracker := newTestOrchestrator(t, &mockFetcher{}, &mockParser{})
	ctx := context.Background()

	result := o.TriggerSource(ctx, "https://example.com/feed")
	require.True(t, result.Started)
	o.Wait()

	run, err := tracker.runs.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, run.Total)
	assert.Equal(t, 0, run.TotalBatches)
}

func TestFetchFailureFailsRun(t *testing.T) {
	fetcher := &mockFetcher{
		fetchFunc: func(ctx context.Context, url string) ([]byte, error) {
			return nil, errors.New("connection refused")
		},
	}
	o, tracker := newTestOrchestrator(t, fetcher, &mockParser{})
	ctx := context.Background()

	result := o.TriggerSource(ctx, "https://example.com/feed")
	require.True(t, result.Started)
	o.Wait()

	run, err := tracker.runs.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotEmpty(t, run.FailedReasons)
	assert.Equal(t, "fetch failed", run.FailedReasons[0].Reason)
}

func TestParseFailureFailsRun(t *testing.T) {
	parser := &mockParser{
		parseFunc: func(data []byte, sourceURL string) ([]models.JobPosting, error) {
			return nil, fmt.Errorf("failed to parse feed: bad xml")
		},
	}
	o, tracker := newTestOrchestrator(t, &mockFetcher{}, parser)
	ctx := context.Background()

	result := o.TriggerSource(ctx, "https://example.com/feed")
	require.True(t, result.Started)
	o.Wait()

	run, err := tracker.runs.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotEmpty(t, run.FailedReasons)
	assert.Equal(t, "parse failed", run.FailedReasons[0].Reason)
}
