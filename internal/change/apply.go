// ABOUTME: Applies a delta to a graph manager in the canonical order.

package change

import (
	"github.com/2389/weft/internal/syncable"
)

// Apply writes a delta into the graph: updates first, then removals, then
// creations. This order never transiently exposes a dangling reference when
// a removal and a creation share an identity window. Update snapshots
// overwrite in place so cached wrappers stay identity-stable.
func Apply(m *syncable.Manager, d *Delta) {
	refs := make([]syncable.Ref, 0, len(d.Updates))
	for ref := range d.Updates {
		refs = append(refs, ref)
	}
	syncable.SortRefs(refs)
	for _, ref := range refs {
		m.Update(d.Updates[ref].Snapshot)
	}

	for _, ref := range d.Removals {
		m.Remove(ref)
	}

	for _, rec := range d.Creations {
		m.Add(rec, false)
	}
}
