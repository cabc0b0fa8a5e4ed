package main

import (
	"context"
	"fmt"
	"net/http"

	"contact-radar/internal/api"
	"contact-radar/internal/blob"
	"contact-radar/internal/config"
	"contact-radar/internal/engine"
	"contact-radar/internal/export"
	"contact-radar/internal/jobs"
	"contact-radar/internal/lock"
	"contact-radar/internal/logging"
	"contact-radar/internal/model"
	"contact-radar/internal/notifier"
	"contact-radar/internal/progress"
	"contact-radar/internal/provider"
	"contact-radar/internal/scheduler"
	"contact-radar/internal/storage"

	"github.com/ternarybob/arbor"
)

// schedulerRunner 是 serve 与 tick 需要的调度能力。
type schedulerRunner interface {
	Start(ctx context.Context) error
	RunOnce(ctx context.Context) (scheduler.Summary, error)
}

// creditLedger 额度管理。
type creditLedger interface {
	GrantCredits(ctx context.Context, userID string, n int) error
	GetCredits(ctx context.Context, userID string) (model.UserCredits, error)
}

// appDeps 汇总命令运行所需的依赖。
type appDeps struct {
	sched    schedulerRunner
	advancer scheduler.Advancer
	ledger   creditLedger
	handler  http.Handler
	logger   arbor.ILogger
}

// builder 根据配置构造依赖，返回的清理函数负责释放资源。
type builder func(config.Config) (appDeps, func(), error)

func buildApp(cfg config.Config) (appDeps, func(), error) {
	logger := logging.New(cfg.Logging)
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := storage.NewStore(cfg.Database)
	if err != nil {
		return appDeps{}, cleanup, fmt.Errorf("init store: %w", err)
	}
	closers = append(closers, func() { _ = store.Close() })

	blobs, err := blob.Open(cfg.Storage)
	if err != nil {
		cleanup()
		return appDeps{}, func() {}, fmt.Errorf("init blob store: %w", err)
	}
	closers = append(closers, func() { _ = blobs.Close() })

	locker, closeLocker, err := buildLocker(cfg.Lock)
	if err != nil {
		cleanup()
		return appDeps{}, func() {}, err
	}
	closers = append(closers, closeLocker)

	client := provider.NewClient(cfg.Provider, nil, logger)
	eng := engine.New(engine.Deps{
		Jobs:     store,
		Provider: client,
		Progress: progress.NewStore(store, blobs, cfg.Progress.InlineThreshold, logger),
		Exporter: export.New(blobs, cfg.Export, logger),
		Locker:   locker,
		Notifier: buildNotifier(cfg.Email, logger),
		Logger:   logger,
	}, cfg.Engine)

	svc := jobs.NewService(store, client, blobs, cfg.Jobs, cfg.Storage.TTL(), logger)
	sched := scheduler.NewScheduler(store, eng, cfg.Scheduler, logger)

	return appDeps{
		sched:    sched,
		advancer: eng,
		ledger:   store,
		handler:  api.NewHandler(svc, eng, blobs, logger),
		logger:   logger,
	}, cleanup, nil
}

func buildLocker(cfg config.LockConfig) (lock.Locker, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return lock.NewMemoryLocker(), func() {}, nil
	case "redis":
		client, err := lock.NewRedisClient(context.Background(), cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis lock: %w", err)
		}
		return lock.NewRedisLocker(client, cfg.Prefix), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock driver %q", cfg.Driver)
	}
}

func buildNotifier(cfg notifier.EmailConfig, logger arbor.ILogger) engine.Notifier {
	logNotifier := notifier.NewLogNotifier(logger)
	if !cfg.Enabled() || cfg.From == "" {
		logger.Info().Msg("email notifier disabled: missing host/from")
		return logNotifier
	}
	return notifier.NewFanout(logNotifier, notifier.NewEmailNotifier(cfg, nil))
}
