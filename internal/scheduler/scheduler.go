// Package scheduler runs scan cycles on an interval or cron schedule with
// retries.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/torsentry/torsentry/internal/config"
	"github.com/torsentry/torsentry/internal/logging"
)

// Job is one scheduled unit of work. Its context is canceled by Stop.
type Job func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	Retry     *RetryStrategy
	Callbacks *Callbacks
}

// FromConfig builds scheduler options from the scan section.
func FromConfig(cfg config.ScanConfig) Options {
	retry := DefaultRetryStrategy()
	retry.MaxRetries = cfg.RetryAttempts
	if cfg.RetryDelaySeconds > 0 {
		retry.InitialDelay = time.Duration(cfg.RetryDelaySeconds) * time.Second
	}
	return Options{Retry: retry}
}

// Scheduler runs a job on a schedule
type Scheduler struct {
	schedule  *Schedule
	job       Job
	retry     *RetryStrategy
	callbacks *Callbacks
	log       *zap.Logger

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastRun   time.Time
	lastError error
	nextRun   time.Time
	runs      uint64
}

// NewScheduler creates a new scheduler
func NewScheduler(schedule *Schedule, job Job, opts Options) *Scheduler {
	retry := opts.Retry
	if retry == nil {
		retry = NoRetry()
	}
	return &Scheduler{
		schedule:  schedule,
		job:       job,
		retry:     retry,
		callbacks: opts.Callbacks,
		log:       logging.Named("scheduler"),
	}
}

// Start begins the scheduler. Calling it on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.stop = make(chan struct{})
	s.cancel = cancel
	s.nextRun = s.schedule.NextRun(time.Now())

	s.wg.Add(1)
	go s.run(ctx, s.stop)
}

// Stop cancels any running job and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running   bool      `json:"running"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	NextRun   time.Time `json:"nextRun,omitempty"`
	Runs      uint64    `json:"runs"`
}

// Status returns scheduler status
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:  s.running,
		Schedule: s.schedule.String(),
		LastRun:  s.lastRun,
		Runs:     s.runs,
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	if s.running {
		st.NextRun = s.nextRun
	}
	return st
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	s.mu.Lock()
	next := s.nextRun
	s.mu.Unlock()
	s.log.Info("scheduler started", zap.String("schedule", s.schedule.String()), zap.Time("next_run", next))

	for {
		if !wait(stop, time.Until(next)) {
			s.log.Info("scheduler stopped")
			return
		}

		s.runWithRetry(ctx, stop, next)

		next = s.schedule.NextRun(time.Now())
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()
		s.log.Debug("next scheduled cycle", zap.Time("next_run", next))
	}
}

func (s *Scheduler) runWithRetry(ctx context.Context, stop <-chan struct{}, scheduled time.Time) {
	var failures []*CycleResult
	for attempt := 1; ; attempt++ {
		result := &CycleResult{ScheduledTime: scheduled, Attempt: attempt, StartTime: time.Now()}
		s.callbacks.start(result)

		result.Error = s.job(ctx)
		result.EndTime = time.Now()

		s.mu.Lock()
		s.lastRun = result.EndTime
		s.lastError = result.Error
		s.runs++
		s.mu.Unlock()

		if result.Success() {
			s.callbacks.success(result)
			return
		}

		result.WillRetry = s.retry.ShouldRetry(attempt) && ctx.Err() == nil
		failures = append(failures, result)
		s.callbacks.failure(result)
		s.log.Debug("scheduled cycle failed", zap.Int("attempt", attempt), zap.Error(result.Error))

		if !result.WillRetry {
			if ctx.Err() == nil {
				s.callbacks.exhausted(failures)
			}
			return
		}
		if !wait(stop, s.retry.NextDelay(attempt)) {
			return
		}
	}
}

// wait sleeps for d and reports false if stop closed first.
func wait(stop <-chan struct{}, d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// FormatDuration formats a duration nicely
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
