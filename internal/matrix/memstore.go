package matrix

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps records in process. It backs tests and offline tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Scope][]Record
	nextID  int64
	// Now stamps CreatedAt/UpdatedAt; defaults to time.Now.
	Now func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Scope][]Record)}
}

// ReplaceScope swaps the records of a scope under a single lock.
func (m *MemoryStore) ReplaceScope(_ context.Context, scope Scope, records []Record) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[Scope][]Record)
	}
	if len(records) == 0 {
		delete(m.records, scope)
		return nil
	}
	stored := make([]Record, 0, len(records))
	for _, r := range records {
		m.nextID++
		r.ID = m.nextID
		r.Scope = scope
		r.CreatedAt = now
		r.UpdatedAt = now
		stored = append(stored, r)
	}
	m.records[scope] = stored
	return nil
}

// HasAny reports whether any record matches the filter.
func (m *MemoryStore) HasAny(_ context.Context, f Filter) (bool, error) {
	return m.exists(f, nil), nil
}

// HasPromotional reports whether any promotional record matches the filter.
func (m *MemoryStore) HasPromotional(_ context.Context, f Filter) (bool, error) {
	tier := Promotional
	return m.exists(f, &tier), nil
}

// NearestFit resolves the round-up nearest record for the tier.
func (m *MemoryStore) NearestFit(_ context.Context, scope Scope, tier Tier, width, height int) (*Record, error) {
	r, ok := NearestFit(m.collect(scope, tier), width, height)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Bound returns the extreme record for the tier.
func (m *MemoryStore) Bound(_ context.Context, scope Scope, tier Tier, axis Axis, dir Direction) (*Record, error) {
	r, ok := Extreme(m.collect(scope, tier), axis, dir)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// CreatedAfter reports whether any record in scope was created strictly after t.
func (m *MemoryStore) CreatedAfter(_ context.Context, scope Scope, t time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for stored, records := range m.records {
		if !scope.Covers(stored) {
			continue
		}
		for _, r := range records {
			if r.CreatedAt.After(t) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Records returns a copy of the records stored for an exact scope.
func (m *MemoryStore) Records(scope Scope) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.records[scope]...)
}

func (m *MemoryStore) exists(f Filter, tier *Tier) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, records := range m.records {
		for _, r := range records {
			if !f.Matches(r) {
				continue
			}
			if tier != nil && r.Tier != *tier {
				continue
			}
			return true
		}
	}
	return false
}

func (m *MemoryStore) collect(scope Scope, tier Tier) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for stored, records := range m.records {
		if !scope.Covers(stored) {
			continue
		}
		for _, r := range records {
			if r.Tier == tier {
				out = append(out, r)
			}
		}
	}
	return out
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
