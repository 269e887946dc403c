// internal/findings/store.go
package findings

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
)

// Store is the ordered, append-only collection of findings for one run. The
// severity summary is maintained on insert so reading it is O(1). Once the
// run reaches a terminal status the store is frozen and rejects writes.
//
// Findings are treated as immutable after Add; callers must not mutate the
// Evidence, CWE or CVSS values of a finding they have handed over.
type Store struct {
	mu       sync.RWMutex
	findings []schemas.Finding
	summary  schemas.SeveritySummary
	cvss     []float64
	frozen   bool
}

// NewStore returns an empty, writable store.
func NewStore() *Store {
	return &Store{}
}

// Add validates and appends a finding. Missing IDs and timestamps are filled in.
func (s *Store) Add(f schemas.Finding) (schemas.Finding, error) {
	if err := f.Validate(); err != nil {
		return schemas.Finding{}, fmt.Errorf("rejected finding %q: %w", f.Title, err)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.ObservedAt.IsZero() {
		f.ObservedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return schemas.Finding{}, schemas.ErrFindingsFrozen
	}
	s.findings = append(s.findings, f)
	s.summary.Add(f.Severity)
	if f.CVSS != nil {
		s.cvss = append(s.cvss, *f.CVSS)
	}
	return f, nil
}

// Findings returns the findings in insertion order.
func (s *Store) Findings() []schemas.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// Summary returns the per-severity counts.
func (s *Store) Summary() schemas.SeveritySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// CVSSScores returns the numeric CVSS values seen so far.
func (s *Store) CVSSScores() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.cvss))
	copy(out, s.cvss)
	return out
}

// Len is the number of findings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.findings)
}

// Freeze makes the store read-only. It is idempotent.
func (s *Store) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}
