package notifier

import (
	"context"

	"contact-radar/internal/model"

	"github.com/ternarybob/arbor"
)

// LogNotifier 仅记录任务结束，适合开发阶段使用。
type LogNotifier struct {
	logger arbor.ILogger
}

// NewLogNotifier 创建日志通知器。
func NewLogNotifier(logger arbor.ILogger) *LogNotifier {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n LogNotifier) JobFinished(_ context.Context, job *model.Job) error {
	if job == nil {
		return nil
	}
	stats := job.Statistics()
	n.logger.Info().
		Str("job_id", job.ID).
		Str("name", job.Name).
		Str("state", string(job.State)).
		Int("unique_contacts", stats.UniqueContacts).
		Int("queries", stats.QueriesProcessed).
		Msg("database finished")
	return nil
}
