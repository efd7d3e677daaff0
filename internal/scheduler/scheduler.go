// Package scheduler keeps cron-triggered digest tasks: exactly one live
// trigger per active task, fresh state re-read on every firing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fluxdigest/internal/domain"
)

// Store is the persisted task surface the scheduler needs.
type Store interface {
	GetTask(ctx context.Context, id int64) (*domain.ScheduledTask, error)
	ListActiveTasks(ctx context.Context) ([]domain.ScheduledTask, error)
	CreateTask(ctx context.Context, task *domain.ScheduledTask) (int64, error)
	UpdateTask(ctx context.Context, task *domain.ScheduledTask) error
	DeleteTask(ctx context.Context, id int64) error
	SetTaskActive(ctx context.Context, id int64, active bool) error
	UpdateTaskRun(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time, lastError string) error
}

// Runner executes one task firing.
type Runner interface {
	RunTask(ctx context.Context, task domain.ScheduledTask) error
}

// cronRunner is the slice of cron.Cron the scheduler uses; tests substitute
// a fake so nothing depends on wall-clock timers.
type cronRunner interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
	Start()
	Stop() context.Context
}

// ErrTaskRunning is returned when a trigger overlaps an in-flight run of the
// same task. Overlapping triggers are skipped, not queued.
var ErrTaskRunning = errors.New("task is already running")

var ErrTaskNotFound = errors.New("task not found")

type Scheduler struct {
	ctx    context.Context
	cron   cronRunner
	store  Store
	runner Runner
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	entries  map[int64]cron.EntryID
	inflight map[int64]bool
}

func New(ctx context.Context, store Store, runner Runner, log *slog.Logger) *Scheduler {
	return &Scheduler{
		ctx:      ctx,
		cron:     cron.New(),
		store:    store,
		runner:   runner,
		now:      time.Now,
		log:      log,
		entries:  make(map[int64]cron.EntryID),
		inflight: make(map[int64]bool),
	}
}

// Start registers every active task and starts the cron loop. A task that
// fails to register is logged and skipped, never fatal.
func (s *Scheduler) Start() error {
	tasks, err := s.store.ListActiveTasks(s.ctx)
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}

	for _, task := range tasks {
		if registerErr := s.register(task); registerErr != nil {
			s.log.ErrorContext(s.ctx, "Failed to register task",
				"error", registerErr,
				"taskID", task.ID,
				"cronExpr", task.CronExpr)
		}
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// NextRun computes the next firing after from, honoring the task timezone.
func NextRun(cronExpr, timezone string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(specFor(cronExpr, timezone))
	if err != nil {
		return time.Time{}, err
	}

	return sched.Next(from), nil
}

func specFor(cronExpr, timezone string) string {
	cronExpr = strings.TrimSpace(cronExpr)
	if tz := strings.TrimSpace(timezone); tz != "" {
		return "CRON_TZ=" + tz + " " + cronExpr
	}

	return cronExpr
}

// CreateTask validates the cron expression, persists the task, and registers
// a live trigger when active. Invalid expressions are rejected before any
// row is written.
func (s *Scheduler) CreateTask(ctx context.Context, task *domain.ScheduledTask) error {
	next, err := NextRun(task.CronExpr, task.Timezone, s.now())
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", task.CronExpr, err)
	}
	task.NextRunAt = &next

	if _, err = s.store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	if task.IsActive {
		if err = s.register(*task); err != nil {
			return fmt.Errorf("register task: %w", err)
		}
	}

	return nil
}

// UpdateTask re-validates, persists, and swaps the live trigger so edits
// take effect immediately.
func (s *Scheduler) UpdateTask(ctx context.Context, task *domain.ScheduledTask) error {
	next, err := NextRun(task.CronExpr, task.Timezone, s.now())
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", task.CronExpr, err)
	}
	task.NextRunAt = &next

	if err = s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	s.unregister(task.ID)

	if task.IsActive {
		if err = s.register(*task); err != nil {
			return fmt.Errorf("register task: %w", err)
		}
	}

	return nil
}

func (s *Scheduler) DeleteTask(ctx context.Context, id int64) error {
	s.unregister(id)

	return s.store.DeleteTask(ctx, id)
}

func (s *Scheduler) EnableTask(ctx context.Context, id int64) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return ErrTaskNotFound
	}

	task.IsActive = true

	next, err := NextRun(task.CronExpr, task.Timezone, s.now())
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", task.CronExpr, err)
	}
	task.NextRunAt = &next

	if err = s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	return s.register(*task)
}

func (s *Scheduler) DisableTask(ctx context.Context, id int64) error {
	s.unregister(id)

	return s.store.SetTaskActive(ctx, id, false)
}

// RunTaskNow executes the identical firing path outside the cron trigger,
// without touching next_run_at.
func (s *Scheduler) RunTaskNow(ctx context.Context, id int64) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return ErrTaskNotFound
	}

	return s.run(ctx, *task, false)
}

// Registered reports whether a live trigger exists for the task.
func (s *Scheduler) Registered(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[id]

	return ok
}

func (s *Scheduler) register(task domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[task.ID]; ok {
		return nil
	}

	taskID := task.ID
	entryID, err := s.cron.AddFunc(specFor(task.CronExpr, task.Timezone), func() {
		s.fire(taskID)
	})
	if err != nil {
		return err
	}

	s.entries[task.ID] = entryID

	return nil
}

func (s *Scheduler) unregister(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[id]
	if !ok {
		return
	}

	s.cron.Remove(entryID)
	delete(s.entries, id)
}

// fire re-reads the task row fresh so edits and disables since registration
// take effect, then runs it.
func (s *Scheduler) fire(id int64) {
	ctx := s.ctx

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to read task on firing",
			"error", err,
			"taskID", id)

		return
	}

	if task == nil || !task.IsActive {
		s.unregister(id)
		s.log.InfoContext(ctx, "Task is gone or inactive, trigger removed",
			"taskID", id)

		return
	}

	if err = s.run(ctx, *task, true); err != nil {
		s.log.ErrorContext(ctx, "Task run failed",
			"error", err,
			"taskID", id,
			"taskName", task.Name)
	}
}

// run executes one firing under the per-task run-lock. last_run_at is always
// written; next_run_at only on scheduled success; last_error set on failure
// and cleared on success.
func (s *Scheduler) run(ctx context.Context, task domain.ScheduledTask, scheduled bool) error {
	if !s.tryAcquire(task.ID) {
		s.log.WarnContext(ctx, "Skipping overlapping task run",
			"taskID", task.ID,
			"taskName", task.Name)

		return ErrTaskRunning
	}
	defer s.release(task.ID)

	runErr := s.runner.RunTask(ctx, task)

	lastRun := s.now()
	var nextRun *time.Time
	var lastError string

	if runErr != nil {
		lastError = runErr.Error()
	} else if scheduled {
		if next, nextErr := NextRun(task.CronExpr, task.Timezone, lastRun); nextErr == nil {
			nextRun = &next
		}
	}

	if updateErr := s.store.UpdateTaskRun(ctx, task.ID, lastRun, nextRun, lastError); updateErr != nil {
		s.log.ErrorContext(ctx, "Failed to record task run",
			"error", updateErr,
			"taskID", task.ID)
	}

	return runErr
}

func (s *Scheduler) tryAcquire(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[id] {
		return false
	}

	s.inflight[id] = true

	return true
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflight, id)
}
