// internal/findings/processor.go
package findings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
)

// ErrProcessorStopped is returned by Submit after Stop.
var ErrProcessorStopped = errors.New("findings processor stopped")

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 2 * time.Second
	persistTimeout       = 30 * time.Second
	persistMaxRetries    = 3
)

// Processor batches findings and writes them to the results store, either
// when a batch fills up or when the flush interval elapses.
type Processor struct {
	input  chan schemas.Finding
	store  schemas.ResultsStore
	logger *zap.Logger

	batchSize     int
	flushInterval time.Duration

	buffer []schemas.Finding
	mu     sync.Mutex
	wg     sync.WaitGroup

	flushSignal chan struct{}
	stopSignal  chan struct{}
	stopOnce    sync.Once
	startOnce   sync.Once

	newBackOff func() backoff.BackOff
}

// NewProcessor initializes a new findings processor.
func NewProcessor(store schemas.ResultsStore, logger *zap.Logger, engineCfg config.EngineConfig) *Processor {
	batchSize := engineCfg.FindingsBatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	interval := engineCfg.FindingsFlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	return &Processor{
		input:         make(chan schemas.Finding, batchSize*4),
		store:         store,
		logger:        logger.Named("findings_processor"),
		batchSize:     batchSize,
		flushInterval: interval,
		buffer:        make([]schemas.Finding, 0, batchSize),
		flushSignal:   make(chan struct{}, 1),
		stopSignal:    make(chan struct{}),
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), persistMaxRetries)
		},
	}
}

// Start launches the processing loop. Subsequent calls are no-ops.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.loop(ctx)
	})
}

// Submit queues a finding for persistence. It blocks while the queue is full.
func (p *Processor) Submit(ctx context.Context, finding schemas.Finding) error {
	select {
	case <-p.stopSignal:
		return ErrProcessorStopped
	default:
	}
	select {
	case p.input <- finding:
		return nil
	case <-p.stopSignal:
		return ErrProcessorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	p.logger.Info("Findings processor started.",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("flush_interval", p.flushInterval))

	for {
		select {
		case finding := <-p.input:
			p.mu.Lock()
			p.buffer = append(p.buffer, finding)
			full := len(p.buffer) >= p.batchSize
			p.mu.Unlock()
			if full {
				select {
				case p.flushSignal <- struct{}{}:
				default:
				}
			}

		case <-ticker.C:
			p.flush()

		case <-p.flushSignal:
			p.flush()

		case <-ctx.Done():
			p.logger.Warn("Context cancelled. Attempting final flush.")
			p.drain()
			p.flush()
			return

		case <-p.stopSignal:
			p.logger.Info("Stop signal received. Draining queue and flushing remaining buffer.")
			p.drain()
			p.flush()
			return
		}
	}
}

func (p *Processor) drain() {
	count := 0
	for {
		select {
		case finding := <-p.input:
			p.mu.Lock()
			p.buffer = append(p.buffer, finding)
			p.mu.Unlock()
			count++
		default:
			p.logger.Debug("Queue drained.", zap.Int("count", count))
			return
		}
	}
}

// flush persists the current buffer on the loop goroutine. Batches are
// written one at a time so stored sequence numbers follow submission order.
func (p *Processor) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := make([]schemas.Finding, len(p.buffer))
	copy(batch, p.buffer)
	p.buffer = p.buffer[:0]
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.persistBatch(ctx, batch); err != nil {
		p.logger.Error("Failed to persist findings batch.", zap.Error(err), zap.Int("batch_size", len(batch)))
	}
}

func (p *Processor) persistBatch(ctx context.Context, batch []schemas.Finding) error {
	valid := batch[:0:0]
	for _, f := range batch {
		if f.RunID == "" {
			p.logger.Warn("Finding missing run ID, skipping persistence.", zap.String("finding_id", f.ID), zap.String("module", f.Module))
			continue
		}
		valid = append(valid, f)
	}
	if len(valid) == 0 {
		return nil
	}

	policy := backoff.WithContext(p.newBackOff(), ctx)
	attempt := 0
	op := func() error {
		attempt++
		err := p.store.PersistFindings(ctx, valid)
		if errors.Is(err, schemas.ErrValidation) {
			return backoff.Permanent(err)
		}
		if err != nil {
			p.logger.Warn("Persisting findings batch failed; retrying.", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("failed to persist %d findings: %w", len(valid), err)
	}

	p.logger.Debug("Persisted findings batch.", zap.Int("count", len(valid)))
	return nil
}

// Stop drains queued findings, flushes them and waits for the final write.
// It is safe to call more than once.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping findings processor...")
		close(p.stopSignal)
	})
	p.wg.Wait()
}
