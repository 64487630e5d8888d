package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskrunner/internal/adapter/executor"
	"taskrunner/internal/adapter/store"
	"taskrunner/internal/domain"
	"taskrunner/internal/infra/config"
	"taskrunner/internal/infra/logger"
	"taskrunner/internal/infra/tracer"
	"taskrunner/internal/usecase"
	"taskrunner/internal/usecase/eventbus"
	"taskrunner/internal/usecase/housekeeping"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`schedulerd - agent task scheduler daemon

USAGE:
    schedulerd [FLAGS]

FLAGS:
    -h, --help       Show this help message
    --config PATH    Specify config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: TASKRUNNER_CONFIG overrides the config path

The daemon polls its scheduled-task registry, enqueues due tasks, and runs
one task at a time through the configured agent command.`)
}

// maintenanceStore is satisfied by both storage backends and drives the
// housekeeping jobs.
type maintenanceStore interface {
	PruneHistory(ctx context.Context, cutoff time.Time) (int, error)
	Compact(ctx context.Context) error
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Executor.Command == "" {
		return fmt.Errorf("config: executor.command is required")
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Storage
	taskStore, scheduleStore, maint, storeCleanup, err := initStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer storeCleanup()

	resilient := store.NewResilientTaskStore(taskStore, log)

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()
	bus.SubscribeAll(func(ctx context.Context, event domain.Event) {
		log.Debug("event", "type", string(event.Type), "task_id", event.TaskID)
	})

	// 5. Queue & registry
	queue := usecase.NewQueue(resilient, bus, log)
	if err := queue.Restore(ctx); err != nil {
		log.Warn("queue restore failed, starting empty", "error", err)
	}
	registry := usecase.NewRegistry(scheduleStore, queue, bus, log)

	// 6. Executor & scheduler
	exec := executor.NewSubprocess(cfg.Executor.Command, cfg.Executor.Args, log)
	scheduler := usecase.NewScheduler(usecase.SchedulerDeps{
		Queue:          queue,
		Registry:       registry,
		Store:          resilient,
		Executor:       exec,
		Bus:            bus,
		Logger:         log,
		PollInterval:   cfg.Scheduler.PollInterval,
		DefaultTimeout: cfg.Scheduler.DefaultTimeout,
	})

	svc := usecase.NewService(queue, registry, scheduler, resilient, cfg.Scheduler.EnqueueRate, log)

	// 7. Housekeeping
	housekeeper, err := initHousekeeping(cfg.Housekeeping, maint, log)
	if err != nil {
		return fmt.Errorf("housekeeping: %w", err)
	}

	// 8. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 9. Start
	if err := svc.StartScheduler(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if housekeeper != nil {
		if err := housekeeper.Start(ctx); err != nil {
			return fmt.Errorf("housekeeping: %w", err)
		}
	}

	log.Info("schedulerd started",
		"backend", cfg.Storage.Backend,
		"poll_interval", cfg.Scheduler.PollInterval,
		"executor", cfg.Executor.Command,
		"housekeeping", housekeeper != nil,
	)

	<-ctx.Done()

	log.Info("shutting down")
	if housekeeper != nil {
		if err := housekeeper.Stop(); err != nil {
			log.Error("housekeeping stop error", "error", err)
		}
	}
	svc.StopScheduler(ctx)
	return nil
}

// initStorage builds the configured persistence backend. The returned cleanup
// is always safe to call.
func initStorage(cfg config.StorageConfig) (domain.TaskStore, domain.ScheduleStore, maintenanceStore, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "sqlite":
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return db, db.ScheduleStore(), db, func() { db.Close() }, nil
	default:
		tasks, err := store.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		schedules, err := store.NewScheduleFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return tasks, schedules, tasks, func() {}, nil
	}
}

// initHousekeeping wires the retention and compaction jobs. Returns nil when
// housekeeping is disabled.
func initHousekeeping(cfg config.HousekeepingConfig, maint maintenanceStore, log *slog.Logger) (*housekeeping.Runner, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	runner := housekeeping.NewRunner(log)

	maxAge, err := time.ParseDuration(cfg.RetentionMaxAge)
	if err != nil {
		return nil, fmt.Errorf("retention_max_age: %w", err)
	}
	runner.RegisterAction(housekeeping.ActionRetention, func(ctx context.Context) error {
		removed, err := maint.PruneHistory(ctx, time.Now().Add(-maxAge))
		if err != nil {
			return err
		}
		if removed > 0 {
			log.Info("history retention sweep", "removed", removed)
		}
		return nil
	})
	runner.RegisterAction(housekeeping.ActionCompaction, func(ctx context.Context) error {
		return maint.Compact(ctx)
	})

	if err := runner.AddJob(housekeeping.Job{
		Name:     "history-retention",
		Schedule: cfg.RetentionCron,
		Action:   housekeeping.ActionRetention,
	}); err != nil {
		return nil, err
	}
	if err := runner.AddJob(housekeeping.Job{
		Name:     "store-compaction",
		Schedule: cfg.CompactionSchedule,
		Action:   housekeeping.ActionCompaction,
	}); err != nil {
		return nil, err
	}
	return runner, nil
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("TASKRUNNER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
