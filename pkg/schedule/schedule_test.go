package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkflows struct {
	mu        sync.Mutex
	workflows []*models.Workflow
}

func (f *fakeWorkflows) set(workflows ...*models.Workflow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.workflows = workflows
}

func (f *fakeWorkflows) List(context.Context) ([]*models.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.workflows, nil
}

type fakeSubmitter struct {
	submitted chan string
}

func (f *fakeSubmitter) SubmitWorkflow(_ context.Context, workflowID string) (*models.WorkflowRun, error) {
	f.submitted <- workflowID

	return &models.WorkflowRun{ID: "run-" + workflowID, WorkflowID: workflowID}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.NoError(t, Validate("@hourly"))
	assert.Error(t, Validate("every day"))
	assert.Error(t, Validate("* * *"))
}

func TestScheduler_Reload(t *testing.T) {
	workflows := &fakeWorkflows{}
	workflows.set(
		&models.Workflow{ID: "nightly", Schedule: "0 3 * * *"},
		&models.Workflow{ID: "manual"},
		&models.Workflow{ID: "broken", Schedule: "not a cron"},
	)

	s := NewScheduler(workflows, &fakeSubmitter{submitted: make(chan string, 1)}, discard(), time.Hour)

	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 1, s.Len())

	workflows.set(
		&models.Workflow{ID: "nightly", Schedule: "0 4 * * *"},
		&models.Workflow{ID: "hourly", Schedule: "@hourly"},
	)
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "0 4 * * *", s.jobs["nightly"].expr)

	workflows.set()
	require.NoError(t, s.Reload(context.Background()))
	assert.Equal(t, 0, s.Len())

	_, ok := s.Next("nightly")
	assert.False(t, ok)
}

func TestScheduler_SubmitsOnSchedule(t *testing.T) {
	workflows := &fakeWorkflows{}
	workflows.set(&models.Workflow{ID: "fast", Schedule: "@every 1s"})

	submitter := &fakeSubmitter{submitted: make(chan string, 10)}
	s := NewScheduler(workflows, submitter, discard(), time.Hour)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	next, ok := s.Next("fast")
	require.True(t, ok)
	assert.False(t, next.IsZero())

	select {
	case id := <-submitter.submitted:
		assert.Equal(t, "fast", id)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled workflow was not submitted")
	}
}
