// internal/engine/task_engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// ErrScanDeadline is the failure cause recorded when a scan outlives the
// configured engine.scan_timeout.
var ErrScanDeadline = errors.New("scan deadline exceeded")

// ErrEngineStopped is returned by Submit when the engine is not accepting work.
var ErrEngineStopped = errors.New("task engine is not running")

// Job is one queued scan.
type Job struct {
	RunID      string
	Target     string
	Modules    []string
	EnqueuedAt time.Time
}

// Outcome reports how a job ended. Err is nil on success.
type Outcome struct {
	Job      Job
	Err      error
	Duration time.Duration
}

// Runner executes a single job.
type Runner interface {
	RunJob(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job Job) error

func (f RunnerFunc) RunJob(ctx context.Context, job Job) error { return f(ctx, job) }

// TaskEngine runs queued jobs on a fixed pool of workers and publishes one
// Outcome per job. Submission never blocks: a full queue is reported as
// schemas.ErrQueueFull.
type TaskEngine struct {
	cfg    config.Interface
	logger *zap.Logger
	runner Runner

	jobs     chan Job
	outcomes chan Outcome
	wg       sync.WaitGroup

	stateLock sync.Mutex
	isRunning bool
	stopped   bool
}

// New creates a new TaskEngine.
func New(cfg config.Interface, logger *zap.Logger, runner Runner) (*TaskEngine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}

	queueSize := cfg.Engine().QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	return &TaskEngine{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "task_engine")),
		runner:   runner,
		jobs:     make(chan Job, queueSize),
		outcomes: make(chan Outcome, queueSize),
	}, nil
}

// Outcomes is closed after Stop once every worker has exited.
func (e *TaskEngine) Outcomes() <-chan Outcome {
	return e.outcomes
}

// Start launches the worker pool. Calling it twice is a no-op.
func (e *TaskEngine) Start(ctx context.Context) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.isRunning || e.stopped {
		e.logger.Warn("TaskEngine.Start called, but engine is already running or stopped.")
		return
	}
	e.isRunning = true

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	e.logger.Info("Starting task engine worker pool", zap.Int("concurrency", concurrency), zap.Int("queue_size", cap(e.jobs)))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1)
	}
}

// Submit enqueues a job without blocking.
func (e *TaskEngine) Submit(job Job) error {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if !e.isRunning {
		return ErrEngineStopped
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case e.jobs <- job:
		return nil
	default:
		return fmt.Errorf("run %s: %w", job.RunID, schemas.ErrQueueFull)
	}
}

// Stop closes the queue, waits for the workers to finish the jobs already
// accepted and then closes the outcome channel.
func (e *TaskEngine) Stop() {
	e.stateLock.Lock()
	if e.stopped {
		e.stateLock.Unlock()
		return
	}
	wasRunning := e.isRunning
	e.stopped = true
	e.isRunning = false
	close(e.jobs)
	e.stateLock.Unlock()

	e.logger.Info("Stopping task engine... waiting for workers to finish.")
	if wasRunning {
		e.wg.Wait()
	}
	close(e.outcomes)
	e.logger.Info("Task engine stopped gracefully.")
}

func (e *TaskEngine) runWorker(ctx context.Context, workerID int) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			// Jobs still queued are reported as cancelled so no run is left dangling.
			e.drainCancelled(ctx, logger)
			return
		case job, ok := <-e.jobs:
			if !ok {
				logger.Debug("Job queue closed and drained, worker shutting down.")
				return
			}
			e.outcomes <- e.process(ctx, job, logger)
		}
	}
}

func (e *TaskEngine) drainCancelled(ctx context.Context, logger *zap.Logger) {
	for {
		select {
		case job, ok := <-e.jobs:
			if !ok {
				return
			}
			logger.Warn("Discarding queued job after shutdown.", zap.String("run_id", job.RunID))
			e.outcomes <- Outcome{Job: job, Err: fmt.Errorf("scan cancelled before start: %w", ctx.Err())}
		default:
			return
		}
	}
}

// process runs one job under the scan deadline and classifies the result.
// The runner executes on its own goroutine so a scanner that ignores its
// context still cannot hold the run open past the deadline.
func (e *TaskEngine) process(ctx context.Context, job Job, logger *zap.Logger) Outcome {
	logger = logger.With(zap.String("run_id", job.RunID))
	start := time.Now()
	out := Outcome{Job: job}

	if ctx.Err() != nil {
		out.Err = fmt.Errorf("scan cancelled before start: %w", ctx.Err())
		return out
	}

	jobCtx := ctx
	timeout := e.cfg.Engine().ScanTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeoutCause(ctx, timeout, ErrScanDeadline)
		defer cancel()
	}

	logger.Info("Processing scan job", zap.String("target", job.Target), zap.Strings("modules", job.Modules))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Scan panicked.", zap.Any("panic", r))
				done <- fmt.Errorf("%w: scanner panic: %v", schemas.ErrCollaboratorFailure, r)
			}
		}()
		done <- e.runner.RunJob(jobCtx, job)
	}()

	var err error
	select {
	case err = <-done:
	case <-jobCtx.Done():
		err = jobCtx.Err()
	}
	out.Duration = time.Since(start)

	switch {
	case err == nil:
		logger.Info("Scan job finished.", zap.Duration("elapsed", out.Duration))
	case errors.Is(context.Cause(jobCtx), ErrScanDeadline):
		logger.Warn("Scan job exceeded its deadline.", zap.Duration("timeout", timeout))
		out.Err = ErrScanDeadline
	case ctx.Err() != nil:
		logger.Warn("Scan job was cancelled.", zap.Error(err))
		out.Err = fmt.Errorf("scan cancelled: %w", ctx.Err())
	default:
		logger.Error("Scan job failed.", zap.Error(err))
		out.Err = err
	}
	return out
}
