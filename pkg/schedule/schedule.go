// Package schedule starts runs of saved workflows on their cron schedules.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// DefaultRefreshInterval is how often saved workflows are reloaded.
const DefaultRefreshInterval = time.Minute

// Validate checks a standard five field cron expression (descriptors such
// as @hourly are accepted).
func Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression '%s': %w", expr, err)
	}

	return nil
}

// WorkflowLister loads saved workflows.
type WorkflowLister interface {
	List(ctx context.Context) ([]*models.Workflow, error)
}

// Submitter starts a run of a saved workflow.
type Submitter interface {
	SubmitWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRun, error)
}

type job struct {
	expr    string
	entryID cron.EntryID
}

// Scheduler keeps one cron entry per scheduled workflow.
type Scheduler struct {
	workflows WorkflowLister
	submitter Submitter
	logger    *slog.Logger
	refresh   time.Duration

	cron   *cron.Cron
	jobs   map[string]job
	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. A non-positive refresh uses DefaultRefreshInterval.
func NewScheduler(workflows WorkflowLister, submitter Submitter, logger *slog.Logger, refresh time.Duration) *Scheduler {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	logger = logger.With("module", "schedule")

	return &Scheduler{
		workflows: workflows,
		submitter: submitter,
		logger:    logger,
		refresh:   refresh,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger{logger}),
			cron.Recover(cronLogger{logger}),
		)),
		jobs: make(map[string]job),
	}
}

// Start loads the scheduled workflows, starts the cron loop and reloads the
// workflows every refresh interval until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.cron.Start()

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reload(ctx); err != nil {
					s.logger.ErrorContext(ctx, "Failed to reload schedules", "error", err)
				}
			}
		}
	}()

	s.logger.InfoContext(ctx, "Schedule runner started", "jobs", s.Len())

	return nil
}

// Stop halts the cron loop and waits for running submissions.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	<-s.cron.Stop().Done()

	s.logger.Info("Schedule runner stopped")
}

// Reload reconciles cron entries with the saved workflows: new schedules
// are added, changed ones replaced and removed ones dropped.
func (s *Scheduler) Reload(ctx context.Context) error {
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	seen := make(map[string]bool, len(workflows))

	for _, wf := range workflows {
		if wf == nil || wf.Schedule == "" {
			continue
		}

		seen[wf.ID] = true

		if existing, ok := s.jobs[wf.ID]; ok {
			if existing.expr == wf.Schedule {
				continue
			}

			s.cron.Remove(existing.entryID)
			delete(s.jobs, wf.ID)
		}

		workflowID := wf.ID

		entryID, err := s.cron.AddFunc(wf.Schedule, func() {
			s.submit(workflowID)
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Skipping workflow with invalid schedule",
				"workflow_id", wf.ID, "cron", wf.Schedule, "error", err)

			continue
		}

		s.jobs[wf.ID] = job{expr: wf.Schedule, entryID: entryID}
		s.logger.DebugContext(ctx, "Scheduled workflow", "workflow_id", wf.ID, "cron", wf.Schedule, "entry_id", entryID)
	}

	for id, j := range s.jobs {
		if !seen[id] {
			s.cron.Remove(j.entryID)
			delete(s.jobs, id)
			s.logger.DebugContext(ctx, "Unscheduled workflow", "workflow_id", id)
		}
	}

	return nil
}

// Len returns the number of scheduled workflows.
func (s *Scheduler) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.jobs)
}

// Next returns the next activation time of a scheduled workflow.
func (s *Scheduler) Next(workflowID string) (time.Time, bool) {
	s.mutex.Lock()
	j, ok := s.jobs[workflowID]
	s.mutex.Unlock()

	if !ok {
		return time.Time{}, false
	}

	return s.cron.Entry(j.entryID).Next, true
}

func (s *Scheduler) submit(workflowID string) {
	ctx := context.Background()

	run, err := s.submitter.SubmitWorkflow(ctx, workflowID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled run failed to start", "workflow_id", workflowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Scheduled run submitted", "workflow_id", workflowID, "run_id", run.ID)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
