package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"contact-radar/internal/model"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Config 数据库配置，driver 为 sqlite 或 postgres。
type Config struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// Store 封装任务与额度的数据库访问。
type Store struct {
	db *gorm.DB
}

// Progress 是任务行内保存的进度快照。
// Snapshot 为空表示结果集过大，只保留计数，完整数据在检查点文件中。
type Progress struct {
	Snapshot datatypes.JSON
	Offset   int
	Count    int
}

// NewStore 按配置打开数据库并自动迁移数据表。
func NewStore(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "data/contacts.db"
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(&model.Job{}, &model.UserCredits{}); err != nil {
		return nil, fmt.Errorf("auto migrate models: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob 根据 ID 获取任务，不加载行内快照。
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := s.db.WithContext(ctx).Omit("stored_results").First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// SaveJob 写回任务的全部非进度字段。
func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	omit := append([]string{"created_at"}, model.ProgressColumns...)
	tx := s.db.WithContext(ctx).Model(job).Select("*").Omit(omit...).Updates(job)
	if tx.Error != nil {
		return fmt.Errorf("save job: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// FinalizeJob 仅在任务尚未进入终态时写入终态，重复调用不会覆盖已有结果。
// 返回 false 表示任务此前已是终态。
func (s *Store) FinalizeJob(ctx context.Context, job *model.Job) (bool, error) {
	if !job.State.IsTerminal() {
		return false, fmt.Errorf("finalize job: state %q is not terminal", job.State)
	}
	omit := append([]string{"created_at"}, model.ProgressColumns...)
	tx := s.db.WithContext(ctx).Model(job).
		Where("state IN ?", []model.JobState{model.JobStatePending, model.JobStateProcessing}).
		Select("*").Omit(omit...).Updates(job)
	if tx.Error != nil {
		return false, fmt.Errorf("finalize job: %w", tx.Error)
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, job.ID); err != nil {
		return false, err
	}
	return false, nil
}

// SetExportProgress 更新导出进度百分比。
func (s *Store) SetExportProgress(ctx context.Context, id string, pct int) error {
	if err := s.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Update("export_progress", pct).Error; err != nil {
		return fmt.Errorf("update export progress: %w", err)
	}
	return nil
}

// UpdateProgress 写入行内进度快照。
func (s *Store) UpdateProgress(ctx context.Context, id string, p Progress) error {
	values := map[string]any{
		"stored_results":        p.Snapshot,
		"last_processed_offset": p.Offset,
		"total_results_count":   p.Count,
		"updated_at":            time.Now(),
	}
	tx := s.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Updates(values)
	if tx.Error != nil {
		return fmt.Errorf("update progress: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// LoadProgress 读取行内进度快照。
func (s *Store) LoadProgress(ctx context.Context, id string) (Progress, error) {
	var job model.Job
	err := s.db.WithContext(ctx).Select(append([]string{"id"}, model.ProgressColumns...)).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Progress{}, ErrJobNotFound
		}
		return Progress{}, fmt.Errorf("load progress: %w", err)
	}
	snapshot := job.StoredResults
	if string(snapshot) == "null" {
		snapshot = nil
	}
	return Progress{Snapshot: snapshot, Offset: job.LastProcessedOffset, Count: job.TotalResultsCount}, nil
}

// ListActiveJobs 返回未进入终态的任务，按更新时间升序，最久未推进的优先。
func (s *Store) ListActiveJobs(ctx context.Context, limit int) ([]model.Job, error) {
	var jobs []model.Job
	query := s.db.WithContext(ctx).Omit("stored_results").
		Where("state IN ?", []model.JobState{model.JobStatePending, model.JobStateProcessing}).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return jobs, nil
}

// ListJobsByUser 返回用户的任务，按创建时间倒序。
func (s *Store) ListJobsByUser(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	var jobs []model.Job
	query := s.db.WithContext(ctx).Omit("stored_results").Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list user jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx).Delete(&model.Job{}, "id = ?", id)
	if tx.Error != nil {
		return fmt.Errorf("delete job: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}
