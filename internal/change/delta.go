// ABOUTME: Delta: the structured, immutable output of processing one change intent.

package change

import (
	"github.com/2389/weft/internal/diff"
	"github.com/2389/weft/internal/syncable"
)

// Update is the new state of one touched record: the full post-change
// snapshot plus the structural edits that produce it from the pre-change
// record. The diffs are what the authority broadcasts; the snapshot is what
// a local participant applies directly.
type Update struct {
	Snapshot *syncable.Syncable
	Diffs    []diff.Edit
}

// Delta is the result of processing one packet. Snapshots and records are
// owned by the delta; the plant never returns inputs mutated in place, so
// the same packet and resolved inputs always yield an identical delta.
type Delta struct {
	Updates   map[syncable.Ref]Update
	Creations []*syncable.Syncable
	Removals  []syncable.Ref
}

// Empty reports whether the delta carries no changes.
func (d *Delta) Empty() bool {
	return len(d.Updates) == 0 && len(d.Creations) == 0 && len(d.Removals) == 0
}
