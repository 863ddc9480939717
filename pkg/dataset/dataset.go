// Package dataset keeps a bounded local copy of recently seen listings.
// Search falls back to filtering this copy when the backend cannot be
// reached.
package dataset

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/portal-pesantren/portal-sub001/pkg/pesantren"
)

// DefaultCapacity is the number of listings kept by default.
const DefaultCapacity = 100

// Store is a source and sink of listings.
type Store interface {
	// Upsert records items as the most recently seen.
	Upsert(ctx context.Context, items ...pesantren.Pesantren) error

	// All returns the stored items, most recently seen first.
	All(ctx context.Context) ([]pesantren.Pesantren, error)
}

// Memory is a bounded in-memory Store. When full, the least recently
// upserted item is evicted.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	items    map[string]pesantren.Pesantren
}

// NewMemory creates a memory store holding at most capacity items.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		items:    make(map[string]pesantren.Pesantren, capacity),
	}
}

// Upsert implements Store. Items without an id are ignored. When items
// holds more than the capacity, the leading items win.
func (m *Memory) Upsert(_ context.Context, items ...pesantren.Pesantren) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		p := items[i]
		if p.ID == "" {
			continue
		}
		if _, ok := m.items[p.ID]; ok {
			m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == p.ID })
		}
		m.order = slices.Insert(m.order, 0, p.ID)
		m.items[p.ID] = p.Clone()
	}

	for len(m.order) > m.capacity {
		last := m.order[len(m.order)-1]
		m.order = m.order[:len(m.order)-1]
		delete(m.items, last)
	}
	return nil
}

// All implements Store.
func (m *Memory) All(_ context.Context) ([]pesantren.Pesantren, error) {
	return m.Snapshot(), nil
}

// Snapshot returns copies of the stored items, most recently seen first.
func (m *Memory) Snapshot() []pesantren.Pesantren {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]pesantren.Pesantren, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id].Clone())
	}
	return out
}

// Get returns one item by id.
func (m *Memory) Get(id string) (pesantren.Pesantren, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[id]
	if !ok {
		return pesantren.Pesantren{}, false
	}
	return p.Clone(), true
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Capacity returns the maximum number of stored items.
func (m *Memory) Capacity() int {
	return m.capacity
}

// Mirrored serves reads from memory and copies every upsert to a durable
// backing store. Backing failures are logged, never returned.
type Mirrored struct {
	*Memory
	backing Store
}

// NewMirrored wraps mem with a backing store.
func NewMirrored(mem *Memory, backing Store) *Mirrored {
	return &Mirrored{Memory: mem, backing: backing}
}

// Restore loads the backing store's items into memory.
func (m *Mirrored) Restore(ctx context.Context) (int, error) {
	items, err := m.backing.All(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) > m.capacity {
		items = items[:m.capacity]
	}
	if err := m.Memory.Upsert(ctx, items...); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Upsert implements Store.
func (m *Mirrored) Upsert(ctx context.Context, items ...pesantren.Pesantren) error {
	if err := m.Memory.Upsert(ctx, items...); err != nil {
		return err
	}
	if err := m.backing.Upsert(ctx, items...); err != nil {
		slog.Warn("dataset: backing upsert failed", "count", len(items), "error", err)
	}
	return nil
}

// Verify interface compliance.
var (
	_ Store = (*Memory)(nil)
	_ Store = (*Mirrored)(nil)
)
