package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger is an in-memory implementation of the ledger
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryLedger creates a new in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*Entry)}
}

// Record adds or replaces an entry
func (l *MemoryLedger) Record(_ context.Context, e *Entry) error {
	prepare(e)

	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *e
	l.entries[e.ID] = &cp
	return nil
}

// List returns matching entries ordered by creation time
func (l *MemoryLedger) List(_ context.Context, f Filter) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if f.match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Get retrieves an entry by ID
func (l *MemoryLedger) Get(_ context.Context, id string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// Delete removes an entry by ID
func (l *MemoryLedger) Delete(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[id]; !ok {
		return ErrNotFound
	}
	delete(l.entries, id)
	return nil
}

func (l *MemoryLedger) HealthCheck(context.Context) error { return nil }

func (l *MemoryLedger) Close() error { return nil }
