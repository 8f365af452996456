package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"NewsParser/internal/domain"
	"NewsParser/internal/metrics"
	"NewsParser/internal/ports"
	"NewsParser/internal/tasks"
)

// ErrUnavailable is returned by TriggerRun after Shutdown.
var ErrUnavailable = errors.New("ingestion is shut down")

// Job ids registered with the scheduler driver.
const (
	FetchJobID   = "fetch_rss_feeds"
	CleanupJobID = "cleanup_old_tasks"

	notifyTimeout = 10 * time.Second
)

// IngestorDeps wires the run gate with its collaborators.
type IngestorDeps struct {
	Runner          Runner
	Registry        *tasks.Registry
	Driver          ports.Scheduler
	Notifier        ports.Notifier
	FetchInterval   time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// SchedulerStatus is the read-only view of the periodic jobs.
type SchedulerStatus struct {
	Running bool
	Jobs    []ports.JobInfo
}

// Ingestor is the single entry point for ingestion runs. Scheduled and manual
// triggers pass through the same gate: at most one run is starting or running.
type Ingestor struct {
	runner          Runner
	registry        *tasks.Registry
	driver          ports.Scheduler
	notifier        ports.Notifier
	fetchInterval   time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger

	// runs outlive the request that triggered them; cancel fires only on shutdown.
	runCtx context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	activeID string
	closed   bool
	wg       sync.WaitGroup
}

// NewIngestor builds an ingestor. Intervals default to 1h (fetch) and 10m (cleanup).
func NewIngestor(deps IngestorDeps) *Ingestor {
	if deps.FetchInterval <= 0 {
		deps.FetchInterval = time.Hour
	}
	if deps.CleanupInterval <= 0 {
		deps.CleanupInterval = 10 * time.Minute
	}
	if deps.Registry == nil {
		deps.Registry = tasks.NewRegistry(0, deps.Logger)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		runner:          deps.Runner,
		registry:        deps.Registry,
		driver:          deps.Driver,
		notifier:        deps.Notifier,
		fetchInterval:   deps.FetchInterval,
		cleanupInterval: deps.CleanupInterval,
		logger:          logger,
		runCtx:          ctx,
		cancel:          cancel,
	}
}

// RegisterJobs adds the periodic fetch and cleanup jobs to the driver.
func (i *Ingestor) RegisterJobs() error {
	if i.driver == nil {
		return errors.New("scheduler driver is not configured")
	}

	fetch := func(ctx context.Context, fired time.Time) {
		id, started, err := i.TriggerRun(ctx, domain.TaskScheduled)
		switch {
		case err != nil:
			i.logger.Error("scheduled run not started", "error", err)
		case !started:
			i.logger.Info("scheduled run skipped, another run is active", "task_id", id)
		default:
			i.logger.Info("scheduled run started", "task_id", id, "fired", fired)
		}
	}
	if err := i.driver.Register(FetchJobID, "Fetch RSS feeds", i.fetchInterval, fetch); err != nil {
		return fmt.Errorf("register fetch job: %w", err)
	}

	cleanup := func(context.Context, time.Time) {
		i.SweepExpired()
	}
	if err := i.driver.Register(CleanupJobID, "Clean up old tasks", i.cleanupInterval, cleanup); err != nil {
		return fmt.Errorf("register cleanup job: %w", err)
	}
	return nil
}

// Start begins firing the periodic jobs.
func (i *Ingestor) Start(ctx context.Context) error {
	if i.driver == nil {
		return nil
	}
	return i.driver.Start(ctx)
}

// Stop halts the periodic jobs. In-flight runs keep going; see Shutdown.
func (i *Ingestor) Stop(ctx context.Context) error {
	if i.driver == nil {
		return nil
	}
	return i.driver.Stop(ctx)
}

// TriggerRun creates a task and starts a run in the background. When a run is
// already active its task id is returned with started=false.
func (i *Ingestor) TriggerRun(_ context.Context, kind domain.TaskKind) (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return "", false, ErrUnavailable
	}
	if i.runner == nil {
		return "", false, errors.New("ingestion runner is not configured")
	}

	if i.activeID != "" {
		if t, err := i.registry.Get(i.activeID); err == nil && t.Status.Active() {
			metrics.IngestionTriggers.WithLabelValues(string(kind), "already_running").Inc()
			return i.activeID, false, nil
		}
	}

	task := i.registry.Create(kind)
	i.activeID = task.ID
	i.wg.Add(1)
	go i.execute(task)

	metrics.IngestionTriggers.WithLabelValues(string(kind), "started").Inc()
	i.logger.Info("ingestion run started", "task_id", task.ID, "kind", kind)
	return task.ID, true, nil
}

// Task returns a snapshot of the task or tasks.ErrNotFound.
func (i *Ingestor) Task(id string) (domain.Task, error) {
	return i.registry.Get(id)
}

// ActiveTask reports the id of the run holding the gate, if any.
func (i *Ingestor) ActiveTask() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.activeID == "" {
		return "", false
	}
	return i.activeID, true
}

// Status describes the periodic jobs.
func (i *Ingestor) Status() SchedulerStatus {
	if i.driver == nil {
		return SchedulerStatus{}
	}
	return SchedulerStatus{Running: i.driver.Running(), Jobs: i.driver.Jobs()}
}

// SweepExpired drops finished tasks older than the retention window.
func (i *Ingestor) SweepExpired() int {
	removed := i.registry.Sweep()
	if removed > 0 {
		i.logger.Info("expired tasks removed", "count", removed)
	}
	return removed
}

// Wait blocks until no run is in flight or ctx is done.
func (i *Ingestor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new triggers, stops the driver and waits for the active
// run. If ctx expires first the run is cancelled and fails.
func (i *Ingestor) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	var errs []error
	if err := i.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := i.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for active run: %w", err))
	}
	i.cancel()
	return errors.Join(errs...)
}

func (i *Ingestor) execute(task domain.Task) {
	defer i.wg.Done()
	defer i.release(task.ID)

	started := time.Now()
	log := i.logger.With("task_id", task.ID, "kind", task.Kind)

	var (
		result domain.TaskResult
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("ingestion run panicked: %v", r)
			}
		}()
		result, err = i.runner.Run(i.runCtx, func(u domain.ProgressUpdate) {
			if _, applyErr := i.registry.Apply(task.ID, u); applyErr != nil {
				log.Warn("progress update not applied", "error", applyErr)
			}
		})
	}()

	metrics.IngestionRunDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.IngestionRuns.WithLabelValues(string(task.Kind), string(domain.StatusFailed)).Inc()
		log.Error("ingestion run failed", "error", err)
		if _, failErr := i.registry.Fail(task.ID, err); failErr != nil {
			log.Warn("mark task failed", "error", failErr)
		}
		i.notifyFailure(task.ID, err)
		return
	}

	if _, completeErr := i.registry.Complete(task.ID, result); completeErr != nil {
		// A run that reported nothing never left starting.
		if errors.Is(completeErr, tasks.ErrNotRunning) {
			if _, applyErr := i.registry.Apply(task.ID, domain.ProgressUpdate{}); applyErr == nil {
				_, completeErr = i.registry.Complete(task.ID, result)
			}
		}
		if completeErr != nil {
			log.Warn("mark task completed", "error", completeErr)
		}
	}
	metrics.IngestionRuns.WithLabelValues(string(task.Kind), string(domain.StatusCompleted)).Inc()
	log.Info("ingestion run completed",
		"new", result.New, "duplicates", result.Duplicates, "errors", result.Errors,
		"duration", time.Since(started).Round(time.Millisecond))
}

func (i *Ingestor) release(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.activeID == id {
		i.activeID = ""
	}
}

func (i *Ingestor) notifyFailure(id string, cause error) {
	if i.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	text := fmt.Sprintf("NewsParser ingestion run %s failed: %v", id, cause)
	if err := i.notifier.Notify(ctx, text); err != nil {
		i.logger.Warn("failure notification not sent", "task_id", id, "error", err)
	}
}
