package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "taskline/internal/log"
)

// JobFunc is one run of a background job. It must honor ctx.
type JobFunc func(ctx context.Context) error

type job struct {
	id   cron.EntryID
	name string
	spec string
	run  JobFunc
}

// Scheduler runs named jobs on cron schedules. A job that is still running
// when its next tick arrives is skipped for that tick. Failures and panics are
// logged; they never stop the scheduler.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]job
}

// New creates a Scheduler that evaluates schedules in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]job),
	}
}

// Add registers fn under name with a standard 5-field spec (descriptors such
// as "@hourly" and "@every 10m" also work).
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if fn == nil {
		return errors.New("job func is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	j := job{name: name, spec: spec, run: fn}
	id, err := s.cron.AddFunc(spec, func() { _ = s.execute(j) })
	if err != nil {
		return fmt.Errorf("job %s: schedule %q: %w", name, spec, err)
	}
	j.id = id
	s.jobs[name] = j
	appLog.Info("job registered", "job", name, "spec", spec)
	return nil
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.execute(j)
}

// Next reports when each job fires next. Times are zero before Start.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = s.cron.Entry(j.id).Next
	}
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop stops scheduling, cancels running jobs' context and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		appLog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) execute(j job) error {
	started := time.Now()
	appLog.Debug("job start", "job", j.name)
	err := j.run(s.ctx)
	if err != nil {
		appLog.Error("job failed", err, "job", j.name, "took", time.Since(started).Round(time.Millisecond))
		return err
	}
	appLog.Debug("job done", "job", j.name, "took", time.Since(started).Round(time.Millisecond))
	return nil
}

// cronLogger routes robfig/cron's own messages to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
