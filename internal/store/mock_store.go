// ABOUTME: In-memory Store implementation for tests and ephemeral gateways
// ABOUTME: Mirrors SQLiteStore semantics without touching the filesystem

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/2389/weft/internal/syncable"
)

// MockStore is an in-memory Store. Safe for concurrent use.
type MockStore struct {
	mu      sync.RWMutex
	records map[syncable.Ref]*syncable.Syncable
	changes []*ChangeRecord
	seen    map[string]bool
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[syncable.Ref]*syncable.Syncable),
		seen:    make(map[string]bool),
	}
}

// LoadAll implements Store.
func (m *MockStore) LoadAll(_ context.Context) ([]*syncable.Syncable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*syncable.Syncable, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Ref(), records[j].Ref()
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return records, nil
}

// Upsert implements Store.
func (m *MockStore) Upsert(_ context.Context, rec *syncable.Syncable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Ref().Identity()] = rec.Clone()
	return nil
}

// Delete implements Store.
func (m *MockStore) Delete(_ context.Context, ref syncable.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ref.Identity()
	if _, ok := m.records[key]; !ok {
		return ErrNotFound
	}
	delete(m.records, key)
	return nil
}

// AppendChange implements Store.
func (m *MockStore) AppendChange(_ context.Context, rec *ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[rec.UID] {
		return nil
	}
	m.seen[rec.UID] = true
	copied := *rec
	m.changes = append(m.changes, &copied)
	return nil
}

// ListChanges implements Store. Newest first, like the SQLite store.
func (m *MockStore) ListChanges(_ context.Context, limit int) ([]*ChangeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	out := make([]*ChangeRecord, 0, len(m.changes))
	for i := len(m.changes) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *m.changes[i]
		out = append(out, &copied)
	}
	return out, nil
}

// Close implements Store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
