package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStore keeps finished runs for later inspection.
type RunStore interface {
	SaveRun(ctx context.Context, r *Result) error
	GetRun(ctx context.Context, taskID string) (*Result, error)
}

// MemoryRuns keeps the most recent runs in process memory.
type MemoryRuns struct {
	mu    sync.RWMutex
	cap   int
	order []string
	runs  map[string]*Result
}

// NewMemoryRuns creates a store holding up to capacity runs.
func NewMemoryRuns(capacity int) *MemoryRuns {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryRuns{cap: capacity, runs: make(map[string]*Result)}
}

func (m *MemoryRuns) SaveRun(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.TaskID]; !ok {
		m.order = append(m.order, r.TaskID)
	}
	m.runs[r.TaskID] = r
	for len(m.order) > m.cap {
		delete(m.runs, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryRuns) GetRun(_ context.Context, taskID string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[taskID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}
