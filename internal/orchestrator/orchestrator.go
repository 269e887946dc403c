// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/engine"
	"github.com/xkilldash9x/scalpel-vapt/internal/findings"
	"github.com/xkilldash9x/scalpel-vapt/internal/registry"
	"github.com/xkilldash9x/scalpel-vapt/internal/reporting"
)

// eventTimeout bounds a single event log write.
const eventTimeout = 5 * time.Second

// FindingSink receives findings for durable persistence.
type FindingSink interface {
	Submit(ctx context.Context, finding schemas.Finding) error
}

// ReportBuilder renders report artifacts.
type ReportBuilder interface {
	Generate(ctx context.Context, runID, target string, findings []schemas.Finding) (string, error)
	Metadata(runID string) (reporting.Metadata, error)
}

// Dependencies are the collaborators an Orchestrator drives. Events, Results
// and Sink are optional.
type Dependencies struct {
	Registry *registry.Registry
	Scanner  schemas.Scanner
	Reports  ReportBuilder
	Events   schemas.EventLog
	Results  schemas.ResultsStore
	Sink     FindingSink
	// StoreName is recorded in each completed run's result reference.
	StoreName string
}

// Orchestrator owns the lifecycle of pentest runs: it accepts requests,
// queues them on the task engine, drives the scanner and applies the outcome
// of every run to the registry.
type Orchestrator struct {
	cfg    config.Interface
	logger *zap.Logger
	deps   Dependencies
	engine *engine.TaskEngine
	now    func() time.Time

	mu          sync.Mutex
	started     bool
	applierDone chan struct{}
	stopOnce    sync.Once
}

// New creates an Orchestrator and its task engine.
func New(cfg config.Interface, logger *zap.Logger, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil || logger == nil || deps.Registry == nil || deps.Scanner == nil || deps.Reports == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if deps.StoreName == "" {
		deps.StoreName = "memory"
	}
	o := &Orchestrator{
		cfg:         cfg,
		logger:      logger.Named("orchestrator"),
		deps:        deps,
		now:         time.Now,
		applierDone: make(chan struct{}),
	}
	eng, err := engine.New(cfg, logger, o)
	if err != nil {
		return nil, fmt.Errorf("failed to create task engine: %w", err)
	}
	o.engine = eng
	return o, nil
}

// Start launches the worker pool and the outcome applier.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.engine.Start(ctx)
	go o.applyOutcomes()
	o.logger.Info("Orchestrator started.")
}

// Stop stops accepting work, waits for in-flight scans and applies their
// outcomes before returning.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.logger.Info("Stopping orchestrator...")
		o.engine.Stop()
		o.mu.Lock()
		started := o.started
		o.mu.Unlock()
		if started {
			<-o.applierDone
		}
		o.logger.Info("Orchestrator stopped.")
	})
}

// Policy is the request policy derived from configuration and the scanner.
func (o *Orchestrator) Policy() schemas.TargetPolicy {
	scanCfg := o.cfg.Scan()
	defaults := scanCfg.DefaultModules
	if len(defaults) == 0 {
		defaults = o.deps.Scanner.Modules()
	}
	return schemas.TargetPolicy{
		AuthorizedTargets: scanCfg.AuthorizedTargets,
		KnownModules:      o.deps.Scanner.Modules(),
		DefaultModules:    defaults,
	}
}

// Submit validates the request, registers the run and queues it. It returns
// as soon as the run is queued. A full queue fails the new run and returns
// ErrQueueFull.
func (o *Orchestrator) Submit(ctx context.Context, req schemas.PentestRequest) (schemas.Run, error) {
	valid, err := req.Validate(o.Policy())
	if err != nil {
		return schemas.Run{}, err
	}

	run, err := o.deps.Registry.Create(valid.Target, valid.Modules)
	if err != nil {
		return schemas.Run{}, fmt.Errorf("failed to register run: %w", err)
	}
	log := o.logger.With(zap.String("run_id", run.ID), zap.String("target", run.Target))

	o.logEvent(ctx, schemas.Event{
		RunID: run.ID,
		Type:  schemas.EventPentestInitiated,
		Data:  map[string]any{"target": run.Target, "modules": run.Modules},
	})

	err = o.engine.Submit(engine.Job{RunID: run.ID, Target: run.Target, Modules: run.Modules})
	if err != nil {
		detail := err.Error()
		if _, failErr := o.deps.Registry.Fail(run.ID, detail); failErr != nil {
			log.Error("Failed to mark rejected run as failed.", zap.Error(failErr))
		}
		o.logEvent(ctx, schemas.Event{RunID: run.ID, Type: schemas.EventPentestError, Data: map[string]any{"error": detail}})
		log.Warn("Run rejected by task engine.", zap.Error(err))
		if errors.Is(err, engine.ErrEngineStopped) {
			return schemas.Run{}, fmt.Errorf("%w: %w", schemas.ErrQueueFull, err)
		}
		return schemas.Run{}, err
	}

	log.Info("Pentest queued.", zap.Strings("modules", run.Modules))
	return run, nil
}

// RunJob executes one queued run. It is called by the task engine workers.
func (o *Orchestrator) RunJob(ctx context.Context, job engine.Job) error {
	log := o.logger.With(zap.String("run_id", job.RunID))

	run, err := o.deps.Registry.Transition(job.RunID, schemas.RunStatusRunning,
		schemas.ProgressDelta{Phase: schemas.PhaseAgentInitialization})
	if err != nil {
		return err
	}
	store, err := o.deps.Registry.Findings(job.RunID)
	if err != nil {
		return err
	}

	o.logEvent(ctx, schemas.Event{
		RunID: run.ID,
		Type:  schemas.EventPentestStarted,
		Data:  map[string]any{"target": run.Target, "modules": run.Modules},
	})
	log.Info("Pentest started.", zap.Duration("queued_for", o.now().Sub(job.EnqueuedAt)))

	reporter := &runReporter{o: o, runID: run.ID, store: store, log: log}
	return o.deps.Scanner.Scan(ctx, schemas.ScanRequest{
		RunID:   run.ID,
		Target:  run.Target,
		Modules: run.Modules,
	}, reporter)
}

// applyOutcomes is the only writer of terminal run state.
func (o *Orchestrator) applyOutcomes() {
	defer close(o.applierDone)
	for out := range o.engine.Outcomes() {
		o.applyOutcome(out)
	}
}

func (o *Orchestrator) applyOutcome(out engine.Outcome) {
	runID := out.Job.RunID
	log := o.logger.With(zap.String("run_id", runID))
	ctx := context.Background()

	if out.Err != nil {
		detail := out.Err.Error()
		if _, err := o.deps.Registry.Fail(runID, detail); err != nil {
			log.Error("Failed to record run failure.", zap.Error(err))
			return
		}
		log.Warn("Pentest failed.", zap.String("error", detail), zap.Duration("duration", out.Duration))
		o.logEvent(ctx, schemas.Event{RunID: runID, Type: schemas.EventPentestError, Data: map[string]any{"error": detail}})
		return
	}

	run, err := o.deps.Registry.Get(runID)
	if err != nil {
		log.Error("Completed run vanished from registry.", zap.Error(err))
		return
	}
	store, err := o.deps.Registry.Findings(runID)
	if err != nil {
		log.Error("Completed run has no findings store.", zap.Error(err))
		return
	}
	completed := len(run.Progress.CompletedModules)
	if _, err := o.deps.Registry.Progress(runID, schemas.ProgressDelta{TotalModules: &completed}); err != nil {
		log.Warn("Failed to record completed module count.", zap.Error(err))
	}

	summary := store.Summary()
	ref := schemas.ResultRef{Store: o.deps.StoreName, FindingsCount: summary.Total(), Summary: summary}
	if _, err := o.deps.Registry.Complete(runID, ref); err != nil {
		log.Error("Failed to record run completion.", zap.Error(err))
		return
	}
	log.Info("Pentest completed.",
		zap.Int("findings", ref.FindingsCount),
		zap.Duration("duration", out.Duration))
	o.logEvent(ctx, schemas.Event{
		RunID: runID,
		Type:  schemas.EventPentestCompleted,
		Data: map[string]any{
			"findings_count":    ref.FindingsCount,
			"summary":           summary,
			"completed_modules": run.Progress.CompletedModules,
		},
	})
}

// logEvent writes to the event log. Failures are logged and dropped: they
// never change run state.
func (o *Orchestrator) logEvent(ctx context.Context, event schemas.Event) {
	if o.deps.Events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	if err := o.deps.Events.LogEvent(ctx, event); err != nil {
		o.logger.Warn("Failed to write event log entry.",
			zap.String("run_id", event.RunID),
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}

// runReporter adapts a run's finding store and progress to the scanner.
type runReporter struct {
	o     *Orchestrator
	runID string
	store *findings.Store
	log   *zap.Logger
}

func (r *runReporter) ReportFinding(ctx context.Context, f schemas.Finding) error {
	f.RunID = r.runID
	added, err := r.store.Add(f)
	switch {
	case errors.Is(err, schemas.ErrValidation):
		r.log.Warn("Dropping malformed finding.", zap.String("title", f.Title), zap.Error(err))
		return nil
	case err != nil:
		return err
	}
	if r.o.deps.Sink != nil {
		if err := r.o.deps.Sink.Submit(ctx, added); err != nil {
			r.log.Warn("Failed to queue finding for persistence.", zap.String("finding_id", added.ID), zap.Error(err))
		}
	}
	return nil
}

func (r *runReporter) ModuleCompleted(module string) {
	if _, err := r.o.deps.Registry.Progress(r.runID, schemas.ProgressDelta{
		Phase:           schemas.PhaseScanning,
		CompletedModule: module,
	}); err != nil {
		r.log.Debug("Ignoring progress for settled run.", zap.String("module", module), zap.Error(err))
	}
}
