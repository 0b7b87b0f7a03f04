// Package cleanup removes request artifacts a fixed delay after delivery.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/signreel/signreel/internal/store"
	"github.com/signreel/signreel/internal/workspace"
)

// MaxAttempts bounds how often a failing task is retried before it is left
// for the next process start.
const MaxAttempts = 5

// TaskStore persists scheduled tasks so they survive a restart.
type TaskStore interface {
	CreateCleanupTask(ctx context.Context, task *store.CleanupTask) error
	ListPendingCleanupTasks(ctx context.Context) ([]*store.CleanupTask, error)
	MarkCleanupDone(ctx context.Context, id string) error
	MarkCleanupFailed(ctx context.Context, id, errorMsg string) error
}

type Options struct {
	Fs           afero.Fs
	Store        TaskStore
	Workspaces   *workspace.Manager
	Delay        time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

type Scheduler struct {
	fs           afero.Fs
	store        TaskStore
	workspaces   *workspace.Manager
	delay        time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	pending map[string]*store.CleanupTask

	recovered sync.Once
	running   atomic.Bool
	removed   atomic.Int64
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		fs:           opts.Fs,
		store:        opts.Store,
		workspaces:   opts.Workspaces,
		delay:        opts.Delay,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		now:          time.Now,
		pending:      make(map[string]*store.CleanupTask),
	}
}

// Schedule queues paths for removal after the configured delay. It never
// blocks on the removal itself.
func (s *Scheduler) Schedule(ctx context.Context, requestID string, paths []string) *store.CleanupTask {
	task := &store.CleanupTask{
		ID:        store.NewID(),
		RequestID: requestID,
		Paths:     lo.Uniq(lo.Compact(paths)),
		DueAt:     s.now().Add(s.delay),
	}
	if s.store != nil {
		if err := s.store.CreateCleanupTask(ctx, task); err != nil {
			s.logger.Warn("failed to persist cleanup task", "request_id", requestID, "error", err)
		}
	}

	s.mu.Lock()
	s.pending[task.ID] = task
	s.mu.Unlock()

	s.logger.Debug("cleanup scheduled", "request_id", requestID, "paths", len(task.Paths), "due_at", task.DueAt)
	return task
}

// Start recovers unfinished tasks if Recover was not called yet and then runs
// due tasks until ctx is done. Remaining tasks are flushed before it returns.
func (s *Scheduler) Start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	defer s.running.Store(false)

	s.Recover(ctx)

	s.logger.Info("cleanup scheduler started", "delay", s.delay, "poll_interval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup scheduler stopping", "pending", s.Pending())
			s.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// Recover re-queues tasks left by a previous process and sweeps orphaned
// workspaces. It runs once; call it before serving requests so the sweep
// cannot race a new workspace.
func (s *Scheduler) Recover(ctx context.Context) {
	s.recovered.Do(func() {
		s.recover(ctx)
		s.sweep()
	})
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Pending returns the number of tasks not yet executed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Removed returns how many tasks completed since start.
func (s *Scheduler) Removed() int64 {
	return s.removed.Load()
}

// Flush runs every pending task now, due or not.
func (s *Scheduler) Flush(ctx context.Context) {
	for _, task := range s.take(func(*store.CleanupTask) bool { return true }) {
		s.execute(ctx, task, false)
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	for _, task := range s.take(func(t *store.CleanupTask) bool { return !t.DueAt.After(now) }) {
		s.execute(ctx, task, true)
	}
}

// take removes matching tasks from the pending set so each runs once.
func (s *Scheduler) take(match func(*store.CleanupTask) bool) []*store.CleanupTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*store.CleanupTask
	for id, t := range s.pending {
		if match(t) {
			due = append(due, t)
			delete(s.pending, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	return due
}

func (s *Scheduler) execute(ctx context.Context, task *store.CleanupTask, retry bool) {
	logger := s.logger.With("request_id", task.RequestID, "task_id", task.ID)

	err := s.removeAll(task.Paths)
	task.Attempts++
	if err == nil {
		s.removed.Add(1)
		if s.store != nil {
			if err := s.store.MarkCleanupDone(ctx, task.ID); err != nil {
				logger.Warn("failed to mark cleanup done", "error", err)
			}
		}
		logger.Info("request resources removed", "paths", len(task.Paths))
		return
	}

	task.LastError = err.Error()
	logger.Error("cleanup failed", "attempt", task.Attempts, "error", err)
	if s.store != nil {
		if err := s.store.MarkCleanupFailed(ctx, task.ID, task.LastError); err != nil {
			logger.Warn("failed to record cleanup failure", "error", err)
		}
	}

	if retry && task.Attempts < MaxAttempts {
		task.DueAt = s.now().Add(s.delay)
		s.mu.Lock()
		s.pending[task.ID] = task
		s.mu.Unlock()
	}
}

// removeAll deletes every path. Missing paths are not an error.
func (s *Scheduler) removeAll(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := s.fs.RemoveAll(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) recover(ctx context.Context) {
	if s.store == nil {
		return
	}
	tasks, err := s.store.ListPendingCleanupTasks(ctx)
	if err != nil {
		s.logger.Error("failed to list pending cleanup tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	s.mu.Lock()
	for _, t := range tasks {
		s.pending[t.ID] = t
	}
	s.mu.Unlock()
	s.logger.Info("recovered cleanup tasks", "count", len(tasks))
}

// sweep removes request workspaces left behind by a previous process that no
// pending task accounts for.
func (s *Scheduler) sweep() {
	if s.workspaces == nil {
		return
	}
	dirs, err := s.workspaces.List()
	if err != nil {
		s.logger.Warn("failed to list workspaces", "error", err)
		return
	}

	s.mu.Lock()
	owned := lo.SliceToMap(lo.Values(s.pending), func(t *store.CleanupTask) (string, struct{}) {
		return t.RequestID, struct{}{}
	})
	s.mu.Unlock()

	swept := 0
	for _, dir := range dirs {
		if _, ok := owned[filepath.Base(dir)]; ok {
			continue
		}
		if err := s.workspaces.Fs().RemoveAll(dir); err != nil {
			s.logger.Warn("failed to sweep workspace", "path", dir, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		s.logger.Info("swept orphaned workspaces", "count", swept)
	}
}
