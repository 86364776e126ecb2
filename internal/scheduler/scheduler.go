// Package scheduler runs named background jobs on cron expressions, such as
// the reaper that closes abandoned conversations.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultReaperSchedule checks for idle conversations every minute.
const DefaultReaperSchedule = "@every 1m"

// Task is the work run by a job. ctx is cancelled when the scheduler stops.
type Task func(ctx context.Context)

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates and starts a cron scheduler. Expressions use the
// standard 5-field format (min, hour, dom, month, dow) or descriptors such as
// "@hourly" and "@every 30s". Panicking jobs are recovered and logged, and a
// job still running when its next tick arrives is skipped.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel, jobs: make(map[string]cron.EntryID)}
}

// AddJob schedules task under name using the cron expression expr.
// It returns an error if the expression is invalid or the name is taken.
func (s *Scheduler) AddJob(name, expr string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		task(s.ctx)
		slog.Debug("Scheduler: job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", expr, name, err)
	}
	s.jobs[name] = id
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr)
	return nil
}

// RemoveJob unschedules name and reports whether it existed.
func (s *Scheduler) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	return true
}

// Jobs lists the scheduled jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := s.cron.Entry(id)
		out = append(out, JobInfo{Name: name, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop stops the scheduler, cancels the task context and waits up to ctx's
// deadline for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: gave up waiting for running jobs", "error", ctx.Err())
	}
}

// Reaper closes conversations idle for longer than maxIdle.
type Reaper interface {
	ReapIdle(ctx context.Context, maxIdle time.Duration) int
}

// ScheduleReaper runs r.ReapIdle on expr. A non-positive maxIdle disables it.
func ScheduleReaper(s *Scheduler, expr string, r Reaper, maxIdle time.Duration) error {
	if maxIdle <= 0 {
		slog.Info("Scheduler.ScheduleReaper: idle reaping disabled")
		return nil
	}
	if expr == "" {
		expr = DefaultReaperSchedule
	}
	return s.AddJob("reaper", expr, func(ctx context.Context) {
		if n := r.ReapIdle(ctx, maxIdle); n > 0 {
			slog.Info("Scheduler: reaped idle conversations", "count", n)
		}
	})
}
