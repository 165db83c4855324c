package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// DefaultInterval is how often the store is polled for due jobs.
const DefaultInterval = 60 * time.Second

// Runner is the interface the scheduler uses to run workflows.
// Satisfied by *engine.Executor.
type Runner interface {
	RunWith(ctx context.Context, def *schema.Graph, input any, opts engine.RunOptions) (*engine.ExecutionResult, error)
}

// Scheduler polls the store for due scheduled jobs and runs the trigger each
// job belongs to.
type Scheduler struct {
	store    store.Store
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler. A zero interval means DefaultInterval.
func NewScheduler(s store.Store, runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		interval: interval,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Sync makes the stored jobs of wf match the `schedule` of its triggers.
// Jobs of triggers that no longer declare one are disabled; their history
// stays. An invalid schedule fails the whole sync.
func (s *Scheduler) Sync(ctx context.Context, wf *store.Workflow) error {
	existing, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{WorkflowID: wf.ID})
	if err != nil {
		return fmt.Errorf("list jobs of workflow %q: %w", wf.ID, err)
	}

	now := time.Now().UTC()
	scheduled := make(map[string]bool)
	var jobs []*store.ScheduledJob
	for i := range wf.Graph.Nodes {
		n := &wf.Graph.Nodes[i]
		spec := n.ConfigString(schema.ConfigSchedule)
		if n.Kind != schema.NodeKindTrigger || spec == "" {
			continue
		}
		next, err := s.CalculateNextRun(spec, now)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid schedule %q", spec).
				WithNode(n.ID).WithCause(err)
		}
		scheduled[n.ID] = true
		jobs = append(jobs, &store.ScheduledJob{
			ID:             uuid.NewString(),
			WorkflowID:     wf.ID,
			TriggerID:      n.ID,
			CronExpression: spec,
			Enabled:        n.IsEnabled(),
			NextRunAt:      &next,
		})
	}

	for _, job := range jobs {
		if err := s.store.UpsertScheduledJob(ctx, job); err != nil {
			return err
		}
	}
	disabled := false
	for _, job := range existing {
		if job.Enabled && !scheduled[job.TriggerID] {
			if err := s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{Enabled: &disabled}); err != nil {
				return err
			}
		}
	}

	s.logger.Info("schedules synced",
		slog.String("workflow_id", wf.ID),
		slog.Int("jobs", len(jobs)),
	)
	return nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job whose next run is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob runs the job's trigger of its stored workflow and updates the job's
// timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
		slog.String("trigger_id", job.TriggerID),
	)

	wf, err := s.store.GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		_ = s.updateJobStatus(ctx, job, now, "error")
		return fmt.Errorf("load workflow %q: %w", job.WorkflowID, err)
	}

	input := map[string]any{
		"triggerId":   job.TriggerID,
		"scheduledAt": now.Format(time.RFC3339),
		"schedule":    job.CronExpression,
	}
	res, err := s.runner.RunWith(ctx, &wf.Graph, input, engine.RunOptions{
		WorkflowID: job.WorkflowID,
		TriggerIDs: []string{job.TriggerID},
	})
	status := "error"
	switch {
	case err != nil:
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	default:
		status = string(res.Status)
	}

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time of a trigger schedule.
func (s *Scheduler) CalculateNextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := validation.ParseSchedule(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every job whose next run passed while the process
// was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.releaseJob(job.ID)
		if err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
