package notifier

import (
	"context"
	"errors"
	"testing"

	"contact-radar/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailNotifierUsesJobRecipient(t *testing.T) {
	t.Parallel()

	sender := &stubSender{}
	n := NewEmailNotifier(EmailConfig{From: "from@example.com", To: []string{"ops@example.com"}}, sender)

	job := finishedJob()
	job.NotifyEmail = "owner@example.com"
	require.NoError(t, n.JobFinished(context.Background(), job))

	require.Equal(t, 1, sender.calls)
	assert.Equal(t, []string{"owner@example.com"}, sender.last.To)
	assert.Contains(t, sender.last.Subject, "Dentists Austin")
	assert.Contains(t, sender.last.Body, "Unique contacts: 42")
	assert.Contains(t, sender.last.Body, "csv, json")
}

func TestEmailNotifierFallsBackToConfiguredRecipients(t *testing.T) {
	t.Parallel()

	sender := &stubSender{}
	n := NewEmailNotifier(EmailConfig{From: "from@example.com", To: []string{"ops@example.com"}}, sender)

	require.NoError(t, n.JobFinished(context.Background(), finishedJob()))
	assert.Equal(t, []string{"ops@example.com"}, sender.last.To)
}

func TestEmailNotifierSkipsWithoutRecipients(t *testing.T) {
	t.Parallel()

	sender := &stubSender{}
	n := NewEmailNotifier(EmailConfig{From: "from@example.com"}, sender)

	require.NoError(t, n.JobFinished(context.Background(), finishedJob()))
	assert.Zero(t, sender.calls)
}

func TestFanoutContinuesAfterError(t *testing.T) {
	t.Parallel()

	failing := &stubSender{err: errors.New("smtp down")}
	ok := &stubSender{}
	f := NewFanout(
		NewEmailNotifier(EmailConfig{To: []string{"a@example.com"}}, failing),
		nil,
		NewEmailNotifier(EmailConfig{To: []string{"b@example.com"}}, ok),
	)

	err := f.JobFinished(context.Background(), finishedJob())
	assert.ErrorContains(t, err, "smtp down")
	assert.Equal(t, 1, ok.calls)
	assert.Len(t, f, 2)
}

func finishedJob() *model.Job {
	job := &model.Job{ID: "job-1", Name: "Dentists Austin", SearchTerm: "dentists", Target: 50, State: model.JobStateCompleted}
	job.SetStatistics(model.Statistics{UniqueContacts: 42, QueriesProcessed: 3, Completed: 42})
	job.SetFiles(map[string]string{"json": "databases/job-1/a.json", "csv": "databases/job-1/a.csv"})
	return job
}

// --- stubs ---

type stubSender struct {
	calls int
	last  EmailMessage
	err   error
}

func (s *stubSender) Send(ctx context.Context, msg EmailMessage) error {
	s.calls++
	s.last = msg
	if s.err != nil {
		return s.err
	}
	return ctx.Err()
}
