package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "VaultChain/internal/errors"
)

// MemoryStore keeps run records in memory, mainly for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

// Record implements Store.
func (m *MemoryStore) Record(_ context.Context, run *Run) error {
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run cannot be nil")
	}
	if run.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrRunConflict
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().Unix()
	}
	clone := cloneRun(run)
	m.runs[run.ID] = clone
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(run), nil
}

// List implements Store, newest first.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []*Run
	for _, run := range m.runs {
		if opts.matches(run) {
			runs = append(runs, cloneRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt == runs[j].CreatedAt {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats Stats
	for _, run := range m.runs {
		if !opts.matches(run) {
			continue
		}
		stats.Total++
		switch run.Status {
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func cloneRun(run *Run) *Run {
	clone := *run
	if run.Steps != nil {
		clone.Steps = append([]byte(nil), run.Steps...)
	}
	if run.Results != nil {
		clone.Results = append([]string(nil), run.Results...)
	}
	return &clone
}
