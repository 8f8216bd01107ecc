// ABOUTME: Object graph manager: canonical record ownership and wrapper materialization.
// ABOUTME: Provides identity-stable lookup with an eagerly-invalidated wrapper cache.

package syncable

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrReferenceNotFound indicates a ref that resolves to no record in the graph.
var ErrReferenceNotFound = errors.New("reference not found")

// Manager owns the canonical records of one session's object graph and
// materializes wrapper objects on demand. Wrappers are cached per identity
// and invalidated eagerly when their backing record is replaced or removed;
// an in-place update (reconciliation) preserves the cached wrapper so
// observers holding it see the new data without spurious invalidation.
type Manager struct {
	mu      sync.RWMutex
	factory *Factory
	records map[Ref]*Syncable
	objects map[Ref]Object
}

// NewManager creates an empty graph backed by the given wrapper factory.
func NewManager(factory *Factory) *Manager {
	return &Manager{
		factory: factory,
		records: make(map[Ref]*Syncable),
		objects: make(map[Ref]Object),
	}
}

// Add inserts or replaces the canonical record for the syncable's identity.
// With isUpdate true and an existing record, the record is overwritten in
// place and any cached wrapper stays valid. Otherwise the entry is replaced
// wholesale (last-write-wins; conflict arbitration happens upstream in
// reconciliation) and the cached wrapper, if any, is invalidated so stale
// holders are never mutated underneath.
func (m *Manager) Add(s *Syncable, isUpdate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.Ref()
	clone := s.Clone()

	if existing, ok := m.records[key]; ok && isUpdate {
		*existing = *clone
		return
	}

	m.records[key] = clone
	delete(m.objects, key)
}

// Update overwrites the record in place, preserving wrapper identity. A
// record not yet known is inserted as a fresh add.
func (m *Manager) Update(s *Syncable) {
	m.Add(s, true)
}

// Get returns the wrapper for ref, materializing and caching it on first
// lookup. The second return is false when the identity is absent, a
// legitimate miss.
func (m *Manager) Get(ref Ref) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ref.Identity()
	record, ok := m.records[key]
	if !ok {
		return nil, false
	}

	obj, ok := m.objects[key]
	if !ok {
		obj = m.factory.New(record)
		m.objects[key] = obj
	}
	return obj, true
}

// Require is Get for contexts where absence is a protocol violation. It
// returns an error wrapping ErrReferenceNotFound when the identity is absent.
func (m *Manager) Require(ref Ref) (Object, error) {
	obj, ok := m.Get(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, ref)
	}
	return obj, nil
}

// Has reports whether the identity is present.
func (m *Manager) Has(ref Ref) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[ref.Identity()]
	return ok
}

// Remove deletes the canonical record and invalidates its cached wrapper.
// Removing an absent identity is a no-op.
func (m *Manager) Remove(ref Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ref.Identity()
	delete(m.records, key)
	delete(m.objects, key)
}

// Clear empties the graph; used when a session is re-bootstrapped from a
// fresh snapshot.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[Ref]*Syncable)
	m.objects = make(map[Ref]Object)
}

// Objects returns wrappers for every record of the given type, or for the
// whole graph when typeName is empty, ordered by (type, id).
func (m *Manager) Objects(typeName string) []Object {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]Ref, 0, len(m.records))
	for key := range m.records {
		if typeName != "" && key.Type != typeName {
			continue
		}
		keys = append(keys, key)
	}
	SortRefs(keys)

	out := make([]Object, 0, len(keys))
	for _, key := range keys {
		obj, ok := m.objects[key]
		if !ok {
			obj = m.factory.New(m.records[key])
			m.objects[key] = obj
		}
		out = append(out, obj)
	}
	return out
}

// Records returns deep copies of every canonical record, ordered by
// (type, id). Used to build snapshot payloads and persist the graph.
func (m *Manager) Records() []*Syncable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Ref, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	SortRefs(keys)

	out := make([]*Syncable, 0, len(keys))
	for _, key := range keys {
		out = append(out, m.records[key].Clone())
	}
	return out
}

// Len returns the number of records in the graph.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// SortRefs orders refs by (type, id) for deterministic iteration.
func SortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].ID < refs[j].ID
	})
}
