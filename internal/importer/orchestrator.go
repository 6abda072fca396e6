package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// TriggerResult reports the outcome of requesting an import for one source.
// An already-active source is a normal branch, not an error.
type TriggerResult struct {
	SourceURL string `json:"source_url"`
	Started   bool   `json:"started"`
	Message   string `json:"message"`
	RunID     string `json:"run_id,omitempty"`
}

// TriggerSummary aggregates trigger results across sources.
type TriggerSummary struct {
	Scheduled int             `json:"scheduled"`
	Skipped   int             `json:"skipped"`
	Results   []TriggerResult `json:"results"`
}

// Orchestrator is the import entry point. It enforces the one-active-run-
// per-source guard, creates the run record, and schedules fetch/parse/
// enqueue in a detached goroutine so the triggering caller returns
// immediately after the guard check.
type Orchestrator struct {
	fetcher interfaces.FeedFetcher
	parser  interfaces.FeedParser
	queue   interfaces.QueueManager
	tracker *Tracker
	policy  BatchPolicy
	sources []string
	logger  arbor.ILogger

	// FetchTimeout bounds the fetch step of the background sequence.
	FetchTimeout time.Duration

	// triggerMu serializes the guard-check-then-create sequence so two
	// concurrent triggers for the same source cannot both pass the check.
	triggerMu sync.Mutex

	// wg tracks in-flight background imports for tests and shutdown.
	wg sync.WaitGroup
}

// NewOrchestrator wires the import entry point.
func NewOrchestrator(
	fetcher interfaces.FeedFetcher,
	parser interfaces.FeedParser,
	queue interfaces.QueueManager,
	tracker *Tracker,
	policy BatchPolicy,
	sources []string,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		fetcher:      fetcher,
		parser:       parser,
		queue:        queue,
		tracker:      tracker,
		policy:       policy,
		sources:      sources,
		logger:       logger,
		FetchTimeout: 30 * time.Second,
	}
}

// Sources returns the configured feed URLs.
func (o *Orchestrator) Sources() []string {
	return o.sources
}

// TriggerAll requests an import for every configured source. Sources with a
// run already in flight are skipped; per-source fetch/parse failures are
// captured in the run record, never raised to the caller.
func (o *Orchestrator) TriggerAll(ctx context.Context) *TriggerSummary {
	summary := &TriggerSummary{}
	for _, url := range o.sources {
		result := o.TriggerSource(ctx, url)
		summary.Results = append(summary.Results, result)
		if result.Started {
			summary.Scheduled++
		} else {
			summary.Skipped++
		}
	}

	o.logger.Info().
		Int("scheduled", summary.Scheduled).
		Int("skipped", summary.Skipped).
		Msg("Import trigger processed")
	return summary
}

// TriggerSource requests an import for one source URL.
func (o *Orchestrator) TriggerSource(ctx context.Context, sourceURL string) TriggerResult {
	o.triggerMu.Lock()
	defer o.triggerMu.Unlock()

	active, err := o.tracker.HasProcessingRun(ctx, sourceURL)
	if err != nil {
		return TriggerResult{
			SourceURL: sourceURL,
			Started:   false,
			Message:   fmt.Sprintf("guard check failed: %v", err),
		}
	}
	if active {
		o.logger.Debug().Str("source_url", sourceURL).Msg("Import already in progress, skipping")
		return TriggerResult{
			SourceURL: sourceURL,
			Started:   false,
			Message:   "import already in progress for this source",
		}
	}

	// Create the run before fetching so the caller gets an immediate
	// acknowledgement; real totals are recorded after parsing.
	runID, err := o.tracker.Create(ctx, sourceURL, 0, 0)
	if err != nil {
		return TriggerResult{
			SourceURL: sourceURL,
			Started:   false,
			Message:   fmt.Sprintf("failed to create run: %v", err),
		}
	}

	o.wg.Add(1)
	go o.runImport(runID, sourceURL)

	return TriggerResult{
		SourceURL: sourceURL,
		Started:   true,
		Message:   "import scheduled",
		RunID:     runID,
	}
}

// Wait blocks until all in-flight background imports have finished their
// setup sequence (fetch/parse/enqueue). Batch processing continues in the
// workers.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runImport is the detached background sequence for one source. Every exit
// path either enqueues the run's batches or finalizes the run; it must never
// return with the run stuck in processing and no caller left.
func (o *Orchestrator) runImport(runID, sourceURL string) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.tracker.MarkFailed(context.Background(), runID, models.FailureReason{
				Reason: "import panicked",
				Error:  fmt.Sprintf("%v", r),
			})
		}
	}()

	ctx := context.Background()

	fetchCtx, cancel := context.WithTimeout(ctx, o.FetchTimeout)
	data, err := o.fetcher.Fetch(fetchCtx, sourceURL)
	cancel()
	if err != nil {
		o.tracker.MarkFailed(ctx, runID, models.FailureReason{
			Reason: "fetch failed",
			Error:  err.Error(),
		})
		return
	}

	jobs, err := o.parser.Parse(data, sourceURL)
	if err != nil {
		o.tracker.MarkFailed(ctx, runID, models.FailureReason{
			Reason: "parse failed",
			Error:  err.Error(),
		})
		return
	}

	if len(jobs) == 0 {
		o.logger.Info().Str("source_url", sourceURL).Msg("Feed contained no jobs")
		if err := o.tracker.UpdateBatchCount(ctx, runID, 0, 0); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record empty totals")
		}
		if err := o.tracker.Complete(ctx, runID); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to finalize empty run")
		}
		return
	}

	batchSize := o.policy.SizeFor(sourceURL)
	batches := SplitBatches(runID, sourceURL, jobs, batchSize)

	// Should not happen with a non-empty job list, but waiting on batch
	// callbacks that will never arrive would strand the run.
	if len(batches) == 0 {
		if err := o.tracker.UpdateBatchCount(ctx, runID, len(jobs), 0); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record totals")
		}
		if err := o.tracker.Complete(ctx, runID); err != nil {
			o.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to finalize zero-batch run")
		}
		return
	}

	if err := o.tracker.UpdateBatchCount(ctx, runID, len(jobs), len(batches)); err != nil {
		o.tracker.MarkFailed(ctx, runID, models.FailureReason{
			Reason: "failed to record batch count",
			Error:  err.Error(),
		})
		return
	}

	for i := range batches {
		if err := o.queue.Enqueue(ctx, &batches[i]); err != nil {
			o.tracker.MarkFailed(ctx, runID, models.FailureReason{
				Reason: "enqueue failed",
				Error:  err.Error(),
			})
			return
		}
	}

	o.logger.Info().
		Str("run_id", runID).
		Str("source_url", sourceURL).
		Int("jobs", len(jobs)).
		Int("batches", len(batches)).
		Int("batch_size", batchSize).
		Msg("Import batches enqueued")
}
