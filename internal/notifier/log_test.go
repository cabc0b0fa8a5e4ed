package notifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestLogNotifierAcceptsJobs(t *testing.T) {
	t.Parallel()

	n := NewLogNotifier(arbor.NewLogger())
	assert.NoError(t, n.JobFinished(context.Background(), finishedJob()))
	assert.NoError(t, n.JobFinished(context.Background(), nil))
}
