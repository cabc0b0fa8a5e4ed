package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"contact-radar/internal/accumulate"
	"contact-radar/internal/blob"
	"contact-radar/internal/model"
	"contact-radar/internal/storage"

	"github.com/ternarybob/arbor"
)

// DefaultInlineThreshold 低于该规模时在任务行内保存完整快照。
const DefaultInlineThreshold = 5000

// Inline 是任务行内进度的读写接口。
type Inline interface {
	LoadProgress(ctx context.Context, id string) (storage.Progress, error)
	UpdateProgress(ctx context.Context, id string, p storage.Progress) error
}

// Store 管理累计结果的两级持久化：行内快照与存储检查点。
type Store struct {
	inline    Inline
	blobs     blob.Store
	threshold int
	logger    arbor.ILogger
}

func NewStore(inline Inline, blobs blob.Store, threshold int, logger arbor.ILogger) *Store {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}
	return &Store{inline: inline, blobs: blobs, threshold: threshold, logger: logger}
}

// Load 恢复累计结果与偏移量。
// 先读行内快照，缺失或损坏时回退到检查点文件，都不可用时返回空集合；读取失败只记录日志。
func (s *Store) Load(ctx context.Context, jobID string) (*accumulate.Set, int) {
	p, err := s.inline.LoadProgress(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("load inline progress failed, starting empty")
		return accumulate.NewSet(), 0
	}

	if len(bytes.TrimSpace(p.Snapshot)) > 0 {
		records, err := accumulate.DecodeRecords(p.Snapshot)
		if err == nil {
			return accumulate.NewSet(records...), p.Offset
		}
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("inline snapshot unreadable, trying checkpoint")
	}

	data, err := s.blobs.Get(ctx, blob.CheckpointPath(jobID))
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("read checkpoint failed, starting empty")
		}
		return accumulate.NewSet(), p.Offset
	}
	records, err := accumulate.DecodeRecords(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("checkpoint unreadable, starting empty")
		return accumulate.NewSet(), p.Offset
	}
	s.logger.Debug().Str("job_id", jobID).Int("records", len(records)).Msg("recovered results from checkpoint")
	return accumulate.NewSet(records...), p.Offset
}

// Save 写入行内进度。规模低于阈值时保存完整快照；否则先写检查点，行内只保存计数与偏移量。
// 返回本次写入的检查点路径，未写检查点时为空。
func (s *Store) Save(ctx context.Context, jobID string, set *accumulate.Set, offset int) (string, error) {
	p := storage.Progress{Offset: offset, Count: set.Len()}
	var path string
	if set.Len() < s.threshold {
		data, err := json.Marshal(set.Records())
		if err != nil {
			return "", fmt.Errorf("encode snapshot: %w", err)
		}
		p.Snapshot = data
	} else {
		written, err := s.Checkpoint(ctx, jobID, set)
		if err != nil {
			return "", err
		}
		path = written
	}
	if err := s.inline.UpdateProgress(ctx, jobID, p); err != nil {
		return "", fmt.Errorf("save progress: %w", err)
	}
	return path, nil
}

// Checkpoint 将完整结果写入存储检查点，返回写入路径。
func (s *Store) Checkpoint(ctx context.Context, jobID string, set *accumulate.Set) (string, error) {
	data, err := json.Marshal(recordsOrEmpty(set.Records()))
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	path := blob.CheckpointPath(jobID)
	if err := s.blobs.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	s.logger.Debug().Str("job_id", jobID).Int("records", set.Len()).Str("path", path).Msg("checkpoint written")
	return path, nil
}

func recordsOrEmpty(records []model.Record) []model.Record {
	if records == nil {
		return []model.Record{}
	}
	return records
}
