package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/importer"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/queue"
	"github.com/ternarybob/colligo/internal/services/fetch"
	"github.com/ternarybob/colligo/internal/services/parse"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	badgerstorage "github.com/ternarybob/colligo/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *badgerstorage.Manager
	QueueManager   interfaces.QueueManager

	Tracker      *importer.Tracker
	Orchestrator *importer.Orchestrator
	BatchWorker  *importer.BatchWorker

	SchedulerService *scheduler.Service

	ImportHandler  *handlers.ImportHandler
	HistoryHandler *handlers.HistoryHandler
	StatusHandler  *handlers.StatusHandler
}

// New wires all services from configuration. Nothing is started yet;
// call Start after construction.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initServices(); err != nil {
		a.StorageManager.Close()
		return nil, err
	}
	a.initHandlers()

	logger.Info().Msg("Application initialized")
	return a, nil
}

func (a *App) initStorage() error {
	storageManager, err := badgerstorage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	queueConfig := queue.NewDefaultConfig()
	if a.Config.Queue.QueueName != "" {
		queueConfig.QueueName = a.Config.Queue.QueueName
	}
	queueConfig.PollInterval = common.Duration(a.Config.Queue.PollInterval, queueConfig.PollInterval)
	queueConfig.VisibilityTimeout = common.Duration(a.Config.Queue.VisibilityTimeout, queueConfig.VisibilityTimeout)
	queueConfig.BackoffBase = common.Duration(a.Config.Queue.BackoffBase, queueConfig.BackoffBase)
	if a.Config.Queue.MaxAttempts > 0 {
		queueConfig.MaxAttempts = a.Config.Queue.MaxAttempts
	}

	queueManager, err := queue.NewBadgerManager(storageManager.DB().Badger(), queueConfig)
	if err != nil {
		storageManager.Close()
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.QueueManager = queueManager

	return nil
}

func (a *App) initServices() error {
	runStorage := a.StorageManager.ImportRunStorage()
	jobStorage := a.StorageManager.JobStorage()

	tracker := importer.NewTracker(runStorage, a.Logger)
	tracker.StaleAfter = common.Duration(a.Config.Scheduler.StaleAfter, tracker.StaleAfter)
	tracker.FailStalledAfter = common.Duration(a.Config.Scheduler.FailStalledAfter, 0)
	a.Tracker = tracker

	fetchTimeout := common.Duration(a.Config.Importer.FetchTimeout, 30*time.Second)
	fetchRateLimit := common.Duration(a.Config.Importer.FetchRateLimit, time.Second)
	fetcher := fetch.NewService(fetchTimeout, fetchRateLimit, a.Logger)
	parser := parse.NewService(a.Logger)

	policy := importer.BatchPolicy{
		DefaultSize:    a.Config.Importer.BatchSize,
		LargeFeedSize:  a.Config.Importer.LargeFeedBatchSize,
		LargeFeedHosts: a.Config.Importer.LargeFeedHosts,
	}

	orchestrator := importer.NewOrchestrator(
		fetcher,
		parser,
		a.QueueManager,
		tracker,
		policy,
		a.Config.Importer.Sources,
		a.Logger,
	)
	orchestrator.FetchTimeout = fetchTimeout
	a.Orchestrator = orchestrator

	worker := importer.NewBatchWorker(a.QueueManager, jobStorage, runStorage, tracker, a.Logger)
	if a.Config.Queue.Concurrency > 0 {
		worker.Concurrency = a.Config.Queue.Concurrency
	}
	worker.PollInterval = common.Duration(a.Config.Queue.PollInterval, worker.PollInterval)
	a.BatchWorker = worker

	repairInterval := common.Duration(a.Config.Scheduler.RepairInterval, time.Minute)
	a.SchedulerService = scheduler.NewService(orchestrator, tracker, repairInterval, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.ImportHandler = handlers.NewImportHandler(a.Orchestrator, a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.StorageManager.ImportRunStorage(), a.QueueManager, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.QueueManager, a.StorageManager.JobStorage(), a.Logger)
}

// Start launches the background components: batch workers and, when
// enabled, the import scheduler.
func (a *App) Start() error {
	a.BatchWorker.Start()

	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(a.Config.Scheduler.ImportSchedule); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.Logger.Info().Msg("Scheduler disabled by configuration")
	}

	return nil
}

// Close stops background components and releases storage. Safe to call
// after a partial startup.
func (a *App) Close() error {
	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}

	if a.BatchWorker != nil {
		a.BatchWorker.Stop()
	}

	// Let in-flight imports finish enqueueing before storage goes away.
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
