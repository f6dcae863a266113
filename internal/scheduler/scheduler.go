// Package scheduler runs recurring background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/erp-admin/pkg/logger"
	"github.com/jwalitptl/erp-admin/pkg/metrics"
)

// Stable job ids.
const (
	JobOutboxMessageProcessor = "outbox-message-processor"
	JobNotificationProcess    = "notification-process"
	JobOutboxCleanup          = "outbox-cleanup"
)

var (
	ErrJobRunning = errors.New("scheduler: job already running")
	ErrUnknownJob = errors.New("scheduler: unknown job")
)

type JobFunc func(ctx context.Context) error

type job struct {
	id       string
	schedule string
	fn       JobFunc
	running  sync.Mutex
}

// Scheduler runs each registered job on its schedule. A run that would
// overlap a previous run of the same job is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	jobs map[string]*job

	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *logger.Logger, metrics *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger{logger})),
		logger:  logger,
		metrics: metrics,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a job. Schedules use the standard five-field cron syntax or
// descriptors such as "@every 30s" and "@hourly".
func (s *Scheduler) Register(id, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("scheduler: job %q already registered", id)
	}
	j := &job{id: id, schedule: schedule, fn: fn}
	if _, err := s.cron.AddFunc(schedule, func() { _ = s.run(s.ctx, j) }); err != nil {
		return fmt.Errorf("scheduler: job %q schedule %q: %w", id, schedule, err)
	}
	s.jobs[id] = j
	return nil
}

// RunNow runs a registered job synchronously on ctx.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	s.cron.Start()
}

// Stop cancels the context handed to running jobs and waits for them to
// return, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	if !j.running.TryLock() {
		s.metrics.JobRuns.WithLabelValues(j.id, "skipped").Inc()
		s.logger.Debug("job still running, skipping", "job", j.id)
		return ErrJobRunning
	}
	defer j.running.Unlock()

	start := time.Now()
	err := invoke(ctx, j)
	if err != nil {
		s.metrics.JobRuns.WithLabelValues(j.id, "failure").Inc()
		s.logger.Error(err, "job failed", "job", j.id, "duration", time.Since(start).String())
		return err
	}
	s.metrics.JobRuns.WithLabelValues(j.id, "success").Inc()
	s.logger.Debug("job finished", "job", j.id, "duration", time.Since(start).String())
	return nil
}

func invoke(ctx context.Context, j *job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", j.id, p)
		}
	}()
	return j.fn(ctx)
}

// cronLogger demotes cron's per-tick chatter to debug.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(err, "cron: "+msg, keysAndValues...)
}
