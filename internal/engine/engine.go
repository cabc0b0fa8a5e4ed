package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contact-radar/internal/accumulate"
	"contact-radar/internal/lock"
	"contact-radar/internal/model"
	"contact-radar/internal/provider"
	"contact-radar/internal/query"
	"contact-radar/internal/storage"

	"github.com/ternarybob/arbor"
)

// Provider 抽象地图搜索供应商。
type Provider interface {
	Submit(ctx context.Context, query string, opts provider.Options) (string, error)
	Status(ctx context.Context, handle string) (provider.Status, error)
}

// JobStore 抽象任务持久化。
type JobStore interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	SaveJob(ctx context.Context, job *model.Job) error
	FinalizeJob(ctx context.Context, job *model.Job) (bool, error)
	SetExportProgress(ctx context.Context, id string, pct int) error
}

// ProgressStore 抽象累计结果的读写。
type ProgressStore interface {
	Load(ctx context.Context, jobID string) (*accumulate.Set, int)
	Save(ctx context.Context, jobID string, set *accumulate.Set, offset int) (string, error)
	Checkpoint(ctx context.Context, jobID string, set *accumulate.Set) (string, error)
}

// Exporter 生成最终导出文件。
type Exporter interface {
	Generate(ctx context.Context, jobID, name string, records []model.Record, progress func(int)) (map[string]string, error)
}

// Notifier 在任务进入终态后通知。
type Notifier interface {
	JobFinished(ctx context.Context, job *model.Job) error
}

// Config 推进配置。
type Config struct {
	Timeout                string `yaml:"timeout" toml:"timeout"`
	LockTTL                string `yaml:"lock_ttl" toml:"lock_ttl"`
	CheckpointEveryRecords int    `yaml:"checkpoint_every_records" toml:"checkpoint_every_records"`
	CheckpointEveryQueries int    `yaml:"checkpoint_every_queries" toml:"checkpoint_every_queries"`
}

// Outcome 是一次推进后对外报告的状态。
type Outcome string

const (
	OutcomeProcessing Outcome = "processing"
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
)

// Result 推进结果。
type Result struct {
	Status  Outcome
	Message string
	Job     *model.Job
}

// Deps 汇总 Engine 的协作者，Locker 与 Notifier 可为空。
type Deps struct {
	Jobs     JobStore
	Provider Provider
	Progress ProgressStore
	Exporter Exporter
	Locker   lock.Locker
	Notifier Notifier
	Logger   arbor.ILogger
}

// Engine 负责单个任务的一次推进：轮询供应商、合并结果、决定下一条查询或结束任务。
type Engine struct {
	deps    Deps
	policy  accumulate.CheckpointPolicy
	timeout time.Duration
	lockTTL time.Duration
	now     func() time.Time
}

func New(deps Deps, cfg Config) *Engine {
	if deps.Logger == nil {
		deps.Logger = arbor.NewLogger()
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 2 * time.Minute
	}
	lockTTL, err := time.ParseDuration(cfg.LockTTL)
	if err != nil || lockTTL <= 0 {
		lockTTL = timeout + 30*time.Second
	}
	policy := accumulate.DefaultPolicy
	if cfg.CheckpointEveryRecords > 0 {
		policy.EveryRecords = cfg.CheckpointEveryRecords
	}
	if cfg.CheckpointEveryQueries > 0 {
		policy.EveryQueries = cfg.CheckpointEveryQueries
	}
	return &Engine{deps: deps, policy: policy, timeout: timeout, lockTTL: lockTTL, now: time.Now}
}

// Advance 推进任务一步。
//
// 供应商或存储的瞬时错误直接返回，任务保持原状，下次轮询自然重试；
// 每一步都是幂等的，重复调用不会产生重复记录。
func (e *Engine) Advance(ctx context.Context, jobID string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.deps.Locker != nil {
		release, err := e.deps.Locker.Acquire(ctx, "job:"+jobID, e.lockTTL)
		if errors.Is(err, lock.ErrLocked) {
			job, err := e.deps.Jobs.GetJob(ctx, jobID)
			if err != nil {
				return Result{}, err
			}
			return Result{Status: outcomeOf(job.State), Message: "advance already in progress", Job: job}, nil
		}
		if err != nil {
			return Result{}, err
		}
		defer release()
	}

	job, err := e.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if job.State.IsTerminal() {
		return Result{Status: outcomeOf(job.State), Message: job.Message, Job: job}, nil
	}

	// 上一轮已记录但未提交成功的查询，优先补发。
	if pending, ok := job.PendingQuery(); ok {
		if err := e.submit(ctx, job, pending); err != nil {
			return Result{}, err
		}
		return e.processing(job, "resubmitted pending query"), nil
	}

	status, err := e.deps.Provider.Status(ctx, job.RequestID)
	if err != nil {
		return Result{}, fmt.Errorf("poll provider: %w", err)
	}

	switch status.State {
	case provider.StateSucceeded:
		return e.onSuccess(ctx, job, status)
	case provider.StateFailed:
		return e.onFailure(ctx, job, status)
	default:
		return Result{Status: OutcomeProcessing, Message: "query still running", Job: job}, nil
	}
}

func (e *Engine) onSuccess(ctx context.Context, job *model.Job, status provider.Status) (Result, error) {
	page, err := accumulate.Flatten(status.Data)
	if err != nil {
		return Result{}, err
	}

	set, _ := e.deps.Progress.Load(ctx, job.ID)
	before := set.Len()
	set.Merge(page)

	// 同一结果页重复合并不改变集合，只需避免统计重复累加。
	stats := job.Statistics()
	if job.LastMergedIndex < job.CurrentQueryIndex {
		stats.QueriesProcessed = job.CurrentQueryIndex + 1
		stats.TotalResults += len(page)
	}

	// 偏移量取自统计，重复合并同一页时保持不变。
	path, err := e.deps.Progress.Save(ctx, job.ID, set, stats.TotalResults)
	if err != nil {
		return Result{}, err
	}
	if path != "" {
		job.CheckpointPath = path
	} else if e.policy.Due(before, set.Len(), job.CurrentQueryIndex) {
		path, err := e.deps.Progress.Checkpoint(ctx, job.ID, set)
		if err != nil {
			e.deps.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("checkpoint failed")
		} else {
			job.CheckpointPath = path
		}
	}

	stats.UniqueContacts = set.Len()
	stats.Completed = set.Len()
	stats.TotalQueries = len(job.History)
	job.SetStatistics(stats)
	job.LastMergedIndex = job.CurrentQueryIndex
	if job.State == model.JobStatePending {
		job.State = model.JobStateProcessing
	}

	e.deps.Logger.Info().
		Str("job_id", job.ID).
		Int("query_index", job.CurrentQueryIndex).
		Int("page", len(page)).
		Int("unique", set.Len()).
		Int("target", job.Target).
		Msg("merged provider results")

	if set.Len() >= job.Target {
		return e.finalize(ctx, job, set, model.JobStateCompleted, "target reached")
	}
	if query.IsSpecific(job.Loc()) && stats.QueriesProcessed >= 1 {
		return e.finalize(ctx, job, set, model.JobStateCompleted, "specific location searched")
	}

	next, ok := query.NextQuery(job.SearchTerm, job.Loc(), job.QueryHistory())
	if !ok {
		return e.finalize(ctx, job, set, model.JobStateCompleted, "all query variations exhausted")
	}
	if err := e.issue(ctx, job, next); err != nil {
		return Result{}, err
	}
	return e.processing(job, "issued next query"), nil
}

func (e *Engine) onFailure(ctx context.Context, job *model.Job, status provider.Status) (Result, error) {
	e.deps.Logger.Warn().Str("job_id", job.ID).Str("request_id", job.RequestID).Str("reason", status.Message).Msg("provider query failed")

	next, ok := query.NextQuery(job.SearchTerm, job.Loc(), job.QueryHistory())
	if !ok {
		msg := "provider query failed and no alternative queries remain"
		if status.Message != "" {
			msg += ": " + status.Message
		}
		return e.finalize(ctx, job, nil, model.JobStateFailed, msg)
	}
	if job.State == model.JobStatePending {
		job.State = model.JobStateProcessing
	}
	if err := e.issue(ctx, job, next); err != nil {
		return Result{}, err
	}
	return e.processing(job, "recovering with alternative query"), nil
}

// issue 先把查询写入历史并保存，再提交给供应商；提交失败时由下一轮补发。
func (e *Engine) issue(ctx context.Context, job *model.Job, next query.Next) error {
	entry := next.Entry
	entry.IssuedAt = e.now()
	job.History = append(job.History, entry)
	job.SetLocation(next.Location)
	stats := job.Statistics()
	stats.TotalQueries = len(job.History)
	job.SetStatistics(stats)
	if err := e.deps.Jobs.SaveJob(ctx, job); err != nil {
		return err
	}
	return e.submit(ctx, job, entry)
}

func (e *Engine) submit(ctx context.Context, job *model.Job, entry model.QueryEntry) error {
	handle, err := e.deps.Provider.Submit(ctx, entry.Query, optionsFor(job))
	if err != nil {
		return fmt.Errorf("submit query %q: %w", entry.Query, err)
	}
	job.RequestID = handle
	job.CurrentQueryIndex = len(job.History) - 1
	if err := e.deps.Jobs.SaveJob(ctx, job); err != nil {
		return err
	}
	e.deps.Logger.Info().Str("job_id", job.ID).Str("query", entry.Query).Str("source", string(entry.Source)).Str("request_id", handle).Msg("query issued")
	return nil
}

func (e *Engine) finalize(ctx context.Context, job *model.Job, set *accumulate.Set, state model.JobState, msg string) (Result, error) {
	if state == model.JobStateCompleted {
		records := set.Records()
		files, err := e.deps.Exporter.Generate(ctx, job.ID, job.Name, records, func(pct int) {
			if err := e.deps.Jobs.SetExportProgress(ctx, job.ID, pct); err != nil {
				e.deps.Logger.Debug().Err(err).Str("job_id", job.ID).Msg("update export progress failed")
			}
		})
		if err != nil {
			return Result{}, fmt.Errorf("finalize exports: %w", err)
		}
		job.SetFiles(files)
		job.ExportProgress = 100
	}

	now := e.now()
	job.State = state
	job.Message = msg
	job.CompletedAt = &now

	applied, err := e.deps.Jobs.FinalizeJob(ctx, job)
	if err != nil {
		return Result{}, err
	}
	if !applied {
		current, err := e.deps.Jobs.GetJob(ctx, job.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: outcomeOf(current.State), Message: current.Message, Job: current}, nil
	}

	e.deps.Logger.Info().Str("job_id", job.ID).Str("state", string(state)).Int("unique", job.Statistics().UniqueContacts).Str("reason", msg).Msg("job finalized")
	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.JobFinished(ctx, job); err != nil {
			e.deps.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("notify job finished failed")
		}
	}
	return Result{Status: outcomeOf(state), Message: msg, Job: job}, nil
}

func (e *Engine) processing(job *model.Job, msg string) Result {
	return Result{Status: OutcomeProcessing, Message: msg, Job: job}
}

func optionsFor(job *model.Job) provider.Options {
	return provider.Options{
		Limit:          job.Target,
		Language:       job.Language,
		Enrichment:     []string(job.Enrichments),
		DropDuplicates: true,
	}
}

func outcomeOf(s model.JobState) Outcome {
	switch s {
	case model.JobStateCompleted:
		return OutcomeCompleted
	case model.JobStateFailed:
		return OutcomeFailed
	default:
		return OutcomeProcessing
	}
}

// IsNotFound 判断错误是否因任务不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrJobNotFound)
}
