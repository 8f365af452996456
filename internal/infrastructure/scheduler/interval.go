package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"NewsParser/internal/ports"
)

var (
	// ErrDuplicateJob is returned when a job id is registered twice.
	ErrDuplicateJob = errors.New("job already registered")
	// ErrRunning is returned when registering jobs or starting an already started scheduler.
	ErrRunning = errors.New("scheduler already running")
)

type job struct {
	id       string
	name     string
	interval time.Duration
	run      ports.Job
	nextRun  time.Time
}

// IntervalScheduler fires each registered job on its own fixed interval.
// A job never overlaps with itself: ticks that arrive while it runs are dropped.
type IntervalScheduler struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	jobs    []*job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler returns a stopped scheduler without jobs.
func NewIntervalScheduler(log *slog.Logger) *IntervalScheduler {
	return &IntervalScheduler{logger: log, now: time.Now}
}

// Register adds a job. All jobs must be registered before Start.
func (s *IntervalScheduler) Register(id, name string, interval time.Duration, run ports.Job) error {
	if id == "" || run == nil {
		return fmt.Errorf("register job %q: id and function are required", id)
	}
	if interval <= 0 {
		return fmt.Errorf("register job %s: interval must be positive, got %s", id, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("register job %s: %w", id, ErrRunning)
	}
	for _, j := range s.jobs {
		if j.id == id {
			return fmt.Errorf("register job %s: %w", id, ErrDuplicateJob)
		}
	}

	s.jobs = append(s.jobs, &job{id: id, name: name, interval: interval, run: run})
	return nil
}

// Start launches one ticker goroutine per job. Jobs first fire one interval after Start.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	started := s.now()
	for _, j := range s.jobs {
		j.nextRun = started.Add(j.interval)
		s.wg.Add(1)
		go s.loop(runCtx, j)
	}

	s.info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels every job loop and waits for running jobs until ctx expires.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// Running reports whether Start has been called without a matching Stop.
func (s *IntervalScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs lists registered jobs in registration order. NextRun is zero while stopped.
func (s *IntervalScheduler) Jobs() []ports.JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ports.JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := ports.JobInfo{ID: j.id, Name: j.name, Interval: j.interval}
		if s.running {
			info.NextRun = j.nextRun
		}
		out = append(out, info)
	}
	return out
}

func (s *IntervalScheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fired := <-ticker.C:
			s.mu.Lock()
			j.nextRun = s.now().Add(j.interval)
			s.mu.Unlock()

			s.debug("job fired", "job", j.id, "fired", fired)
			s.invoke(ctx, j, fired)
		}
	}
}

func (s *IntervalScheduler) invoke(ctx context.Context, j *job, fired time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logError("job panicked", "job", j.id, "panic", r)
		}
	}()
	j.run(ctx, fired)
}

func (s *IntervalScheduler) info(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *IntervalScheduler) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *IntervalScheduler) logError(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
