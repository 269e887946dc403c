// Package registry tracks the lifecycle of scan runs.
package registry

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/findings"
)

// maxIDAttempts bounds regeneration when a fresh ID collides.
const maxIDAttempts = 5

// allowed lists the legal edges of the run state machine.
var allowed = map[schemas.RunStatus][]schemas.RunStatus{
	schemas.RunStatusInitializing: {schemas.RunStatusRunning, schemas.RunStatusFailed},
	schemas.RunStatusRunning:      {schemas.RunStatusCompleted, schemas.RunStatusFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to schemas.RunStatus) bool {
	return slices.Contains(allowed[from], to)
}

type entry struct {
	mu       sync.Mutex
	run      schemas.Run
	findings *findings.Store
}

// Registry is the in-memory index of runs. The map is guarded by an RWMutex
// and every run carries its own mutex, so updates to different runs never
// contend and a snapshot is always taken under the run's lock.
type Registry struct {
	mu     sync.RWMutex
	runs   map[string]*entry
	newID  func() string
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		runs:   make(map[string]*entry),
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("run_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a new run in the Initializing state.
func (r *Registry) Create(target string, modules []string) (schemas.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	for attempt := 1; ; attempt++ {
		id = r.newID()
		if _, exists := r.runs[id]; !exists {
			break
		}
		r.logger.Warn("Run ID collision, regenerating.", zap.String("run_id", id), zap.Int("attempt", attempt))
		if attempt >= maxIDAttempts {
			return schemas.Run{}, fmt.Errorf("%w: gave up after %d attempts", schemas.ErrDuplicateRun, attempt)
		}
	}

	e := &entry{
		run: schemas.Run{
			ID:      id,
			Target:  target,
			Modules: slices.Clone(modules),
			Status:  schemas.RunStatusInitializing,
			Progress: schemas.Progress{
				Phase:            schemas.PhaseInitializing,
				CompletedModules: []string{},
				TotalModules:     len(modules),
			},
			StartTime: r.now(),
		},
		findings: findings.NewStore(),
	}
	r.runs[id] = e

	r.logger.Debug("Run created.", zap.String("run_id", id), zap.String("target", target))
	return snapshot(&e.run), nil
}

func (r *Registry) lookup(runID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, schemas.ErrNotFound)
	}
	return e, nil
}

// Get returns a snapshot of the run.
func (r *Registry) Get(runID string) (schemas.Run, error) {
	e, err := r.lookup(runID)
	if err != nil {
		return schemas.Run{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(&e.run), nil
}

// Findings returns the run's finding store.
func (r *Registry) Findings(runID string) (*findings.Store, error) {
	e, err := r.lookup(runID)
	if err != nil {
		return nil, err
	}
	return e.findings, nil
}

// List returns snapshots of every run, newest first.
func (r *Registry) List() []schemas.Run {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.runs))
	for _, e := range r.runs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]schemas.Run, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshot(&e.run))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Transition moves a run along a legal edge and applies the progress delta.
// Illegal edges leave the run untouched and return ErrInvalidTransition.
func (r *Registry) Transition(runID string, to schemas.RunStatus, delta schemas.ProgressDelta) (schemas.Run, error) {
	return r.apply(runID, to, delta, nil)
}

// Progress updates a non-terminal run without changing its status.
func (r *Registry) Progress(runID string, delta schemas.ProgressDelta) (schemas.Run, error) {
	e, err := r.lookup(runID)
	if err != nil {
		return schemas.Run{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run.Status.Terminal() {
		return schemas.Run{}, fmt.Errorf("%w: run %s is %s", schemas.ErrInvalidTransition, runID, e.run.Status)
	}
	applyDelta(&e.run.Progress, delta)
	return snapshot(&e.run), nil
}

// Complete marks a running run as Completed and attaches its result.
func (r *Registry) Complete(runID string, ref schemas.ResultRef) (schemas.Run, error) {
	return r.apply(runID, schemas.RunStatusCompleted, schemas.ProgressDelta{Phase: schemas.PhaseCompleted}, func(run *schemas.Run) {
		run.Result = &ref
	})
}

// Fail marks a run as Failed with the given error detail. The progress
// percentage is left where it was.
func (r *Registry) Fail(runID string, detail string) (schemas.Run, error) {
	return r.apply(runID, schemas.RunStatusFailed, schemas.ProgressDelta{Phase: schemas.PhaseFailed}, func(run *schemas.Run) {
		run.Error = detail
	})
}

func (r *Registry) apply(runID string, to schemas.RunStatus, delta schemas.ProgressDelta, mutate func(*schemas.Run)) (schemas.Run, error) {
	e, err := r.lookup(runID)
	if err != nil {
		return schemas.Run{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.run.Status
	if !CanTransition(from, to) {
		return schemas.Run{}, fmt.Errorf("%w: run %s cannot move from %s to %s", schemas.ErrInvalidTransition, runID, from, to)
	}

	e.run.Status = to
	applyDelta(&e.run.Progress, delta)
	if mutate != nil {
		mutate(&e.run)
	}
	if to.Terminal() {
		end := r.now()
		e.run.EndTime = &end
		e.findings.Freeze()
	}
	if to == schemas.RunStatusCompleted {
		e.run.Progress.Percentage = 100
	}

	r.logger.Debug("Run transitioned.",
		zap.String("run_id", runID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return snapshot(&e.run), nil
}

// applyDelta merges a delta into p. The percentage is derived from module
// completion and held below 100 until the run completes.
func applyDelta(p *schemas.Progress, delta schemas.ProgressDelta) {
	if delta.Phase != "" {
		p.Phase = delta.Phase
	}
	if delta.TotalModules != nil {
		p.TotalModules = *delta.TotalModules
	}
	if delta.CompletedModule != "" && !slices.Contains(p.CompletedModules, delta.CompletedModule) {
		p.CompletedModules = append(p.CompletedModules, delta.CompletedModule)
	}
	if p.TotalModules > 0 {
		pct := len(p.CompletedModules) * 100 / p.TotalModules
		p.Percentage = min(max(pct, p.Percentage), 99)
	}
}

// snapshot deep-copies a run. Callers must hold the run's lock.
func snapshot(run *schemas.Run) schemas.Run {
	out := *run
	out.Modules = slices.Clone(run.Modules)
	out.Progress.CompletedModules = slices.Clone(run.Progress.CompletedModules)
	if out.Progress.CompletedModules == nil {
		out.Progress.CompletedModules = []string{}
	}
	if run.EndTime != nil {
		end := *run.EndTime
		out.EndTime = &end
	}
	if run.Result != nil {
		res := *run.Result
		out.Result = &res
	}
	return out
}
