package notifier

import (
	"context"
	"errors"

	"contact-radar/internal/model"
)

type jobNotifier interface {
	JobFinished(ctx context.Context, job *model.Job) error
}

// Fanout 依次调用所有通知器，单个失败不影响其余通知器。
type Fanout []jobNotifier

// NewFanout 忽略 nil 通知器。
func NewFanout(notifiers ...jobNotifier) Fanout {
	out := make(Fanout, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (f Fanout) JobFinished(ctx context.Context, job *model.Job) error {
	var errs []error
	for _, n := range f {
		if err := n.JobFinished(ctx, job); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
