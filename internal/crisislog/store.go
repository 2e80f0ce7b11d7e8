package crisislog

import (
	"context"
	"sync"
)

// Store persists entries in insertion order. Implementations never edit or
// remove an entry once Append has returned nil.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// List returns every entry, oldest first.
	List(ctx context.Context) ([]Entry, error)
}

// Memory is a process-local Store.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[string]struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

func (m *Memory) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[e.ID]; ok {
		return ErrDuplicateID
	}
	e.Active = false
	m.entries = append(m.entries, e.clone())
	m.ids[e.ID] = struct{}{}
	return nil
}

func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.clone()
	}
	return out, nil
}
