package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contact-radar/internal/blob"
	"contact-radar/internal/model"
	"contact-radar/internal/provider"
	"contact-radar/internal/query"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"gorm.io/datatypes"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrForbidden      = errors.New("job belongs to another user")
	ErrNotReady       = errors.New("job not completed")
	ErrNoArtifact     = errors.New("export format not available")
)

// Store 定义任务服务依赖的持久化接口。
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobsByUser(ctx context.Context, userID string, limit int) ([]model.Job, error)
	DeleteJob(ctx context.Context, id string) error
	GetCredits(ctx context.Context, userID string) (model.UserCredits, error)
	ReserveCredits(ctx context.Context, userID string, n int) error
	RefundCredits(ctx context.Context, userID string, n int) error
}

// Submitter 提交首条查询。
type Submitter interface {
	Submit(ctx context.Context, query string, opts provider.Options) (string, error)
}

// Config 控制默认目标规模与可选增强项。
type Config struct {
	DefaultTarget      int      `yaml:"default_target" toml:"default_target"`
	MaxTarget          int      `yaml:"max_target" toml:"max_target"`
	DefaultLanguage    string   `yaml:"default_language" toml:"default_language"`
	AllowedEnrichments []string `yaml:"allowed_enrichments" toml:"allowed_enrichments"`
	ListLimit          int      `yaml:"list_limit" toml:"list_limit"`
}

// LocationRequest 结构化位置。
type LocationRequest struct {
	Country string   `json:"country" validate:"required"`
	State   string   `json:"state"`
	City    string   `json:"city"`
	Cities  []string `json:"cities" validate:"dive,required"`
	States  []string `json:"states" validate:"dive,required"`
}

// Request 表示创建数据库的请求。
type Request struct {
	UserID      string           `json:"-" validate:"required"`
	Name        string           `json:"name" validate:"required,max=200"`
	Query       string           `json:"query" validate:"required,max=200"`
	QueryType   string           `json:"query_type" validate:"omitempty,oneof=simple structured free_text"`
	Location    *LocationRequest `json:"location" validate:"required_if=QueryType structured"`
	Locations   string           `json:"locations" validate:"required_if=QueryType free_text"`
	Target      int              `json:"target" validate:"omitempty,min=1"`
	Language    string           `json:"language" validate:"omitempty,len=2"`
	Enrichments []string         `json:"enrichments" validate:"dive,required"`
	NotifyEmail string           `json:"notify_email" validate:"omitempty,email"`
}

// Service 负责校验请求、扣减额度、提交首条查询并创建任务。
type Service struct {
	store    Store
	provider Submitter
	blobs    blob.Store
	validate *validator.Validate
	cfg      Config
	linkTTL  time.Duration
	logger   arbor.ILogger
	now      func() time.Time
}

// NewService 创建任务服务。
func NewService(store Store, submitter Submitter, blobs blob.Store, cfg Config, linkTTL time.Duration, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if cfg.DefaultTarget <= 0 {
		cfg.DefaultTarget = 50
	}
	if cfg.MaxTarget <= 0 {
		cfg.MaxTarget = 100000
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 100
	}
	if linkTTL <= 0 {
		linkTTL = time.Hour
	}
	return &Service{
		store:    store,
		provider: submitter,
		blobs:    blobs,
		validate: validator.New(),
		cfg:      cfg,
		linkTTL:  linkTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Create 校验请求并创建任务。额度在提交前预扣，提交失败时归还。
func (s *Service) Create(ctx context.Context, req Request) (*model.Job, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Query = strings.TrimSpace(req.Query)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Target == 0 {
		req.Target = s.cfg.DefaultTarget
	}
	if req.Target > s.cfg.MaxTarget {
		return nil, fmt.Errorf("%w: target exceeds %d", ErrInvalidRequest, s.cfg.MaxTarget)
	}
	if err := s.checkEnrichments(req.Enrichments); err != nil {
		return nil, err
	}
	loc, err := locationFrom(req)
	if err != nil {
		return nil, err
	}
	if req.Language == "" {
		req.Language = s.cfg.DefaultLanguage
	}

	if err := s.store.ReserveCredits(ctx, req.UserID, req.Target); err != nil {
		return nil, err
	}

	first := query.Initial(req.Query, loc)
	first.IssuedAt = s.now()
	opts := provider.Options{Limit: req.Target, Language: req.Language, Enrichment: req.Enrichments, DropDuplicates: true}
	handle, err := s.provider.Submit(ctx, first.Query, opts)
	if err != nil {
		s.refund(ctx, req.UserID, req.Target)
		return nil, fmt.Errorf("submit initial query: %w", err)
	}

	job := &model.Job{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Name:            req.Name,
		SearchTerm:      req.Query,
		Language:        req.Language,
		Enrichments:     datatypes.NewJSONSlice(req.Enrichments),
		Target:          req.Target,
		NotifyEmail:     req.NotifyEmail,
		State:           model.JobStatePending,
		RequestID:       handle,
		History:         datatypes.NewJSONSlice([]model.QueryEntry{first}),
		LastMergedIndex: -1,
	}
	job.SetLocation(loc)
	job.SetStatistics(model.Statistics{TotalQueries: 1})
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.refund(ctx, req.UserID, req.Target)
		return nil, err
	}

	s.logger.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Str("query", first.Query).Int("target", job.Target).Msg("job created")
	return job, nil
}

// Get 返回用户自己的任务。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrForbidden
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]model.Job, error) {
	return s.store.ListJobsByUser(ctx, userID, s.cfg.ListLimit)
}

func (s *Service) Credits(ctx context.Context, userID string) (model.UserCredits, error) {
	return s.store.GetCredits(ctx, userID)
}

// Delete 删除任务及其导出文件与检查点；文件删除失败只记录日志。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	job, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	paths := []string{blob.CheckpointPath(job.ID)}
	if job.CheckpointPath != "" && job.CheckpointPath != paths[0] {
		paths = append(paths, job.CheckpointPath)
	}
	for _, p := range job.Files() {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if err := s.blobs.Delete(ctx, p); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Str("path", p).Msg("delete file failed")
		}
	}

	if err := s.store.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", job.ID).Int("files", len(paths)).Msg("job deleted")
	return nil
}

// DownloadURL 为已完成任务的导出文件生成限时链接。
func (s *Service) DownloadURL(ctx context.Context, userID, id, format string) (string, error) {
	job, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if job.State != model.JobStateCompleted {
		return "", ErrNotReady
	}
	if format == "" {
		format = "json"
	}
	path, ok := job.Files()[strings.ToLower(format)]
	if !ok {
		return "", ErrNoArtifact
	}
	return s.blobs.SignedURL(ctx, path, s.linkTTL)
}

func (s *Service) refund(ctx context.Context, userID string, n int) {
	if err := s.store.RefundCredits(ctx, userID, n); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int("credits", n).Msg("refund credits failed")
	}
}

func (s *Service) checkEnrichments(values []string) error {
	if len(s.cfg.AllowedEnrichments) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(s.cfg.AllowedEnrichments))
	for _, e := range s.cfg.AllowedEnrichments {
		allowed[e] = struct{}{}
	}
	for _, v := range values {
		if _, ok := allowed[v]; !ok {
			return fmt.Errorf("%w: unsupported enrichment %s", ErrInvalidRequest, v)
		}
	}
	return nil
}

func locationFrom(req Request) (model.Location, error) {
	switch req.QueryType {
	case string(model.LocationStructured):
		l := req.Location
		loc := model.Location{
			Kind:    model.LocationStructured,
			Country: strings.TrimSpace(l.Country),
			State:   strings.TrimSpace(l.State),
			City:    strings.TrimSpace(l.City),
			Cities:  trimAll(l.Cities),
			States:  trimAll(l.States),
		}
		return loc, nil
	case string(model.LocationFreeText):
		places := model.ParseFreeText(req.Locations)
		if len(places) == 0 {
			return model.Location{}, fmt.Errorf("%w: no locations given", ErrInvalidRequest)
		}
		return model.Location{Kind: model.LocationFreeText, Locations: places}, nil
	default:
		return model.Location{Kind: model.LocationSimple}, nil
	}
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
