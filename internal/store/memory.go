package store

import (
	"context"
	"sync"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// MemoryBackendName identifies the in-memory store in result references.
const MemoryBackendName = "memory"

// Memory is a process-local results store and event log, used when no
// database is configured. Its contents do not survive a restart.
type Memory struct {
	mu       sync.RWMutex
	findings map[string][]schemas.Finding
	events   []schemas.Event
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{findings: make(map[string][]schemas.Finding)}
}

func (m *Memory) Name() string { return MemoryBackendName }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) PersistFindings(_ context.Context, findings []schemas.Finding) error {
	for _, f := range findings {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range findings {
		m.findings[f.RunID] = append(m.findings[f.RunID], f)
	}
	return nil
}

func (m *Memory) FindingsByRunID(_ context.Context, runID string) ([]schemas.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.findings[runID]
	if len(stored) == 0 {
		return nil, nil
	}
	out := make([]schemas.Finding, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *Memory) LogEvent(_ context.Context, event schemas.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// Events returns the events logged for runID, oldest first.
func (m *Memory) Events(runID string) []schemas.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.Event
	for _, e := range m.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}
