package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/importer"
)

// Service drives the periodic import cycle and the stuck-run repair sweep.
type Service struct {
	orchestrator *importer.Orchestrator
	tracker      *importer.Tracker
	cron         *cron.Cron
	logger       arbor.ILogger

	mu           sync.Mutex
	isProcessing bool
	running      bool
	repairTicker *time.Ticker
	repairDone   chan struct{}
	repairEvery  time.Duration
}

// NewService creates a scheduler for the given orchestrator and tracker.
func NewService(orchestrator *importer.Orchestrator, tracker *importer.Tracker, repairEvery time.Duration, logger arbor.ILogger) *Service {
	return &Service{
		orchestrator: orchestrator,
		tracker:      tracker,
		cron:         cron.New(),
		logger:       logger,
		repairEvery:  repairEvery,
		repairDone:   make(chan struct{}),
	}
}

// Start registers the import schedule and launches the repair loop.
func (s *Service) Start(cronExpr string) error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if cronExpr == "" {
		cronExpr = "0 * * * *" // Default: top of every hour
	}

	if _, err := s.cron.AddFunc(cronExpr, s.runScheduledImport); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	if s.repairEvery > 0 {
		s.repairTicker = time.NewTicker(s.repairEvery)
		go s.repairLoop()
		s.logger.Info().
			Str("interval", s.repairEvery.String()).
			Msg("Stuck run detector started")
	}

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Msg("Scheduler started")

	return nil
}

// Stop halts the cron schedule and the repair loop.
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}

	if s.repairTicker != nil {
		s.repairTicker.Stop()
		close(s.repairDone)
		s.logger.Info().Msg("Stuck run detector stopped")
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if the scheduler is active.
func (s *Service) IsRunning() bool {
	return s.running
}

// runScheduledImport triggers imports for all configured sources. Overlapping
// cycles are skipped rather than queued.
func (s *Service) runScheduledImport() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled import")
		}
	}()

	s.mu.Lock()
	if s.isProcessing {
		s.logger.Debug().Msg("Previous import cycle still in progress, skipping this cycle")
		s.mu.Unlock()
		return
	}
	s.isProcessing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
	}()

	s.logger.Info().Msg("Starting scheduled import cycle")

	started := time.Now()
	summary := s.orchestrator.TriggerAll(context.Background())

	s.logger.Info().
		Int("scheduled", summary.Scheduled).
		Int("skipped", summary.Skipped).
		Str("duration", time.Since(started).Round(time.Millisecond).String()).
		Msg("Scheduled import cycle dispatched")
}

// repairLoop periodically reconciles processing runs whose counters or
// timestamps say they should no longer be processing.
func (s *Service) repairLoop() {
	for {
		select {
		case <-s.repairDone:
			return
		case <-s.repairTicker.C:
			repaired, err := s.tracker.RepairStuckRuns(context.Background())
			if err != nil {
				s.logger.Error().Err(err).Msg("Stuck run repair failed")
			} else if repaired > 0 {
				s.logger.Info().Int("repaired", repaired).Msg("Stuck runs reconciled")
			}
		}
	}
}
