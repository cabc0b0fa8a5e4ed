package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"contact-radar/internal/engine"
	"contact-radar/internal/model"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"
)

// Config 用于调度配置。
// Interval 可以是时长（30s）或 cron 表达式（*/1 * * * *、@every 30s）。
type Config struct {
	Interval    string `yaml:"interval" toml:"interval"`
	Timeout     string `yaml:"timeout" toml:"timeout"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
	BatchSize   int    `yaml:"batch_size" toml:"batch_size"`
}

// JobLister 列出待推进的任务。
type JobLister interface {
	ListActiveJobs(ctx context.Context, limit int) ([]model.Job, error)
}

// Advancer 推进单个任务。
type Advancer interface {
	Advance(ctx context.Context, jobID string) (engine.Result, error)
}

// Summary 单轮推进的统计。
type Summary struct {
	Advanced  int
	Completed int
	Failed    int
	Errors    int
}

// Scheduler 周期性推进所有未结束的任务，代替客户端轮询。
type Scheduler struct {
	jobs        JobLister
	advancer    Advancer
	interval    time.Duration
	cronSpec    string
	timeout     time.Duration
	concurrency int
	batchSize   int
	running     atomic.Bool
	newTicker   func(time.Duration) ticker
	logger      arbor.ILogger
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewScheduler 创建 Scheduler，解析配置的间隔与超时。
func NewScheduler(jobs JobLister, adv Advancer, cfg Config, logger arbor.ILogger) *Scheduler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	interval, spec := parseSchedule(cfg.Interval)
	timeout := 5 * time.Minute
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Scheduler{
		jobs:        jobs,
		advancer:    adv,
		interval:    interval,
		cronSpec:    spec,
		timeout:     timeout,
		concurrency: concurrency,
		batchSize:   batch,
		newTicker:   defaultTicker,
		logger:      logger,
	}
}

// Start 启动调度循环，直到上下文取消。单轮失败只记录日志。
func (s *Scheduler) Start(ctx context.Context) error {
	if s.jobs == nil || s.advancer == nil {
		return fmt.Errorf("scheduler missing dependencies")
	}
	if s.cronSpec != "" {
		return s.startCron(ctx)
	}

	tick := s.newTicker(s.interval)
	defer tick.Stop()
	ch := tick.C()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			s.tick(ctx)
		drain:
			for {
				select {
				case <-ch:
					continue
				default:
					break drain
				}
			}
		}
	}
}

func (s *Scheduler) startCron(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cronSpec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("register cron %q: %w", s.cronSpec, err)
	}
	c.Start()
	s.logger.Info().Str("spec", s.cronSpec).Msg("scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Scheduler) tick(ctx context.Context) {
	sum, err := s.runOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler tick failed")
		return
	}
	if sum.Advanced > 0 {
		s.logger.Info().Int("advanced", sum.Advanced).Int("completed", sum.Completed).Int("failed", sum.Failed).Int("errors", sum.Errors).Msg("scheduler tick")
	}
}

// RunOnce 对外暴露单轮推进接口，便于手动触发。
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	return s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) (Summary, error) {
	if s.running.Swap(true) {
		return Summary{}, nil
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	active, err := s.jobs.ListActiveJobs(ctx, s.batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("list active jobs: %w", err)
	}

	var (
		mu  sync.Mutex
		sum Summary
		g   errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, job := range active {
		g.Go(func() error {
			res, err := s.advancer.Advance(ctx, job.ID)
			mu.Lock()
			defer mu.Unlock()
			sum.Advanced++
			if err != nil {
				if !engine.IsNotFound(err) {
					sum.Errors++
					s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("advance job failed, will retry")
				}
				return nil
			}
			switch res.Status {
			case engine.OutcomeCompleted:
				sum.Completed++
			case engine.OutcomeFailed:
				sum.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return sum, nil
}

func defaultTicker(d time.Duration) ticker {
	return tickerWrapper{time.NewTicker(d)}
}

type tickerWrapper struct {
	*time.Ticker
}

func (t tickerWrapper) C() <-chan time.Time { return t.Ticker.C }
func (t tickerWrapper) Stop()               { t.Ticker.Stop() }

// parseSchedule 时长优先；否则按 cron 表达式校验；都不合法时回退到 30s。
func parseSchedule(value string) (time.Duration, string) {
	trimmed := strings.TrimSpace(value)
	if trimmed != "" {
		if d, err := time.ParseDuration(trimmed); err == nil && d > 0 {
			return d, ""
		}
		if _, err := cron.ParseStandard(trimmed); err == nil {
			return 0, trimmed
		}
	}
	return 30 * time.Second, ""
}
