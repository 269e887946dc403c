// internal/engine/task_engine_test.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

func newEngine(t *testing.T, engineCfg config.EngineConfig, runner Runner) *TaskEngine {
	t.Helper()
	mockCfg := new(mocks.MockConfig)
	mockCfg.On("Engine").Return(engineCfg)
	e, err := New(mockCfg, zap.NewNop(), runner)
	require.NoError(t, err)
	return e
}

// collect drains outcomes until the channel closes.
func collect(e *TaskEngine) <-chan []Outcome {
	result := make(chan []Outcome, 1)
	go func() {
		var all []Outcome
		for o := range e.Outcomes() {
			all = append(all, o)
		}
		result <- all
	}()
	return result
}

// -- Test Suite --

func TestNew_ValidatesDependencies(t *testing.T) {
	runner := RunnerFunc(func(context.Context, Job) error { return nil })
	_, err := New(nil, zap.NewNop(), runner)
	assert.Error(t, err)
	_, err = New(new(mocks.MockConfig), nil, runner)
	assert.Error(t, err)

	mockCfg := new(mocks.MockConfig)
	_, err = New(mockCfg, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestTaskEngine_ProcessesJobs(t *testing.T) {
	var calls atomic.Int32
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 2, QueueSize: 10}, RunnerFunc(func(ctx context.Context, job Job) error {
		calls.Add(1)
		if job.RunID == "run-bad" {
			return errors.New("scanner blew up")
		}
		return nil
	}))
	results := collect(e)
	e.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Submit(Job{RunID: fmt.Sprintf("run-%d", i), Target: "https://example.com"}))
	}
	require.NoError(t, e.Submit(Job{RunID: "run-bad"}))
	e.Stop()

	outcomes := <-results
	require.Len(t, outcomes, 4)
	assert.EqualValues(t, 4, calls.Load())
	for _, o := range outcomes {
		if o.Job.RunID == "run-bad" {
			assert.EqualError(t, o.Err, "scanner blew up")
		} else {
			assert.NoError(t, o.Err)
		}
		assert.False(t, o.Job.EnqueuedAt.IsZero())
	}
}

func TestTaskEngine_DeadlineFailsCooperativeScan(t *testing.T) {
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 1, ScanTimeout: 50 * time.Millisecond},
		RunnerFunc(func(ctx context.Context, job Job) error {
			<-ctx.Done()
			return ctx.Err()
		}))
	results := collect(e)
	e.Start(context.Background())

	require.NoError(t, e.Submit(Job{RunID: "slow"}))
	e.Stop()

	outcomes := <-results
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, ErrScanDeadline)
}

func TestTaskEngine_DeadlineFailsStuckScan(t *testing.T) {
	release := make(chan struct{})
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 1, ScanTimeout: 50 * time.Millisecond},
		RunnerFunc(func(ctx context.Context, job Job) error {
			<-release // ignores ctx entirely
			return nil
		}))
	results := collect(e)
	e.Start(context.Background())

	require.NoError(t, e.Submit(Job{RunID: "stuck"}))
	e.Stop()
	close(release)

	outcomes := <-results
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, ErrScanDeadline)
}

func TestTaskEngine_ZeroTimeoutWaits(t *testing.T) {
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 1, ScanTimeout: 0},
		RunnerFunc(func(ctx context.Context, job Job) error {
			_, hasDeadline := ctx.Deadline()
			assert.False(t, hasDeadline)
			time.Sleep(20 * time.Millisecond)
			return nil
		}))
	results := collect(e)
	e.Start(context.Background())
	require.NoError(t, e.Submit(Job{RunID: "patient"}))
	e.Stop()

	outcomes := <-results
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
}

func TestTaskEngine_QueueFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 1}, RunnerFunc(func(ctx context.Context, job Job) error {
		if job.RunID == "first" {
			close(started)
			<-release
		}
		return nil
	}))
	results := collect(e)
	e.Start(context.Background())

	require.NoError(t, e.Submit(Job{RunID: "first"}))
	<-started
	require.NoError(t, e.Submit(Job{RunID: "queued"}))

	err := e.Submit(Job{RunID: "rejected"})
	assert.ErrorIs(t, err, schemas.ErrQueueFull)

	close(release)
	e.Stop()
	assert.Len(t, <-results, 2)
}

func TestTaskEngine_SubmitBeforeStartAndAfterStop(t *testing.T) {
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 1}, RunnerFunc(func(context.Context, Job) error { return nil }))
	assert.ErrorIs(t, e.Submit(Job{RunID: "early"}), ErrEngineStopped)

	results := collect(e)
	e.Start(context.Background())
	e.Stop()
	e.Stop()
	assert.ErrorIs(t, e.Submit(Job{RunID: "late"}), ErrEngineStopped)
	assert.Empty(t, <-results)
}

func TestTaskEngine_PanicBecomesCollaboratorFailure(t *testing.T) {
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 1}, RunnerFunc(func(context.Context, Job) error {
		panic("nil map write")
	}))
	results := collect(e)
	e.Start(context.Background())
	require.NoError(t, e.Submit(Job{RunID: "panicky"}))
	e.Stop()

	outcomes := <-results
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, schemas.ErrCollaboratorFailure)
	assert.Contains(t, outcomes[0].Err.Error(), "nil map write")
}

func TestTaskEngine_ContextCancellation(t *testing.T) {
	started := make(chan struct{})
	e := newEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 4}, RunnerFunc(func(ctx context.Context, job Job) error {
		if job.RunID == "running" {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}))
	results := collect(e)
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	require.NoError(t, e.Submit(Job{RunID: "running"}))
	<-started
	require.NoError(t, e.Submit(Job{RunID: "queued"}))

	cancel()
	e.Stop()

	outcomes := <-results
	require.Len(t, outcomes, 2, "every accepted job must produce an outcome")
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}
