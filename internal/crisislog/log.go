// Package crisislog keeps the append-only record of crisis activations,
// manual override changes and their resolutions.
package crisislog

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"civicguard.org/internal/ids"
)

// Log caches a Store in memory and answers queries newest first.
type Log struct {
	store Store

	mu         sync.RWMutex
	entries    []Entry // oldest first
	index      map[string]int
	superseded map[string]string // entry id -> id of the entry that closed it
}

// Open loads every entry from store.
func Open(ctx context.Context, store Store) (*Log, error) {
	if store == nil {
		store = NewMemory()
	}
	existing, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load crisis log: %w", err)
	}
	l := &Log{
		store:      store,
		index:      make(map[string]int, len(existing)),
		superseded: make(map[string]string),
	}
	for _, e := range existing {
		l.add(e)
	}
	return l, nil
}

// Append validates e, assigns an ID when it has none, writes it to the store
// and returns the stored entry. Nothing is cached when the store fails.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := validate(e); err != nil {
		return Entry{}, err
	}
	e = e.clone()
	e.Timestamp = e.Timestamp.UTC()
	e.Active = false
	if e.ID == "" {
		e.ID = ids.NewAt(e.Timestamp)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.index[e.ID]; ok {
		return Entry{}, ErrDuplicateID
	}
	if e.Supersedes != "" {
		if _, ok := l.index[e.Supersedes]; !ok {
			return Entry{}, fmt.Errorf("%w: supersedes unknown entry %s", ErrInvalidEntry, e.Supersedes)
		}
		if by, closed := l.superseded[e.Supersedes]; closed {
			return Entry{}, fmt.Errorf("%w: entry %s already superseded by %s", ErrInvalidEntry, e.Supersedes, by)
		}
	}
	if err := l.store.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("append crisis log: %w", err)
	}
	l.add(e)
	return l.withActive(e), nil
}

func (l *Log) add(e Entry) {
	l.index[e.ID] = len(l.entries)
	l.entries = append(l.entries, e.clone())
	if e.Supersedes != "" {
		l.superseded[e.Supersedes] = e.ID
	}
}

func (l *Log) withActive(e Entry) Entry {
	out := e.clone()
	_, closed := l.superseded[e.ID]
	out.Active = e.Open && !closed
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Query yields entries newest first. Each range over the sequence starts
// again from the newest entry present at that moment; iteration stops early
// when ctx is done.
func (l *Log) Query(ctx context.Context) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		l.mu.RLock()
		n := len(l.entries)
		l.mu.RUnlock()
		for i := n - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				return
			}
			l.mu.RLock()
			e := l.withActive(l.entries[i])
			l.mu.RUnlock()
			if !yield(e) {
				return
			}
		}
	}
}

// Entries collects Query into a slice.
func (l *Log) Entries(ctx context.Context) []Entry {
	return slices.Collect(l.Query(ctx))
}

// Get returns the entry with id.
func (l *Log) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return l.withActive(l.entries[i]), true
}

// Current returns the newest entry still in force.
func (l *Log) Current() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.withActive(l.entries[i])
		if e.Active {
			return e, true
		}
	}
	return Entry{}, false
}
