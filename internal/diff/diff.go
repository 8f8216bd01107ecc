// ABOUTME: Structural diff representation and interpreter for syncable documents.
// ABOUTME: Edits are ordered {path, op, value} triples applied against JSON-shaped maps.

package diff

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Apply errors
var (
	ErrBadPath = errors.New("diff: path does not resolve to a map")
)

// Op identifies the kind of edit.
type Op string

const (
	// OpSet writes Value at Path, creating intermediate maps as needed.
	OpSet Op = "set"

	// OpUnset deletes the entry at Path. Unsetting a missing entry is a no-op.
	OpUnset Op = "unset"
)

// Edit is a single structural change to a document. Path addresses nested
// map keys from the document root. Arrays are treated atomically: a changed
// element produces a set of the whole array.
type Edit struct {
	Path  []string `json:"path"`
	Op    Op       `json:"op"`
	Value any      `json:"value,omitempty"`
}

// String renders an edit for logs and test failures, e.g. `set fields.count=1`.
func (e Edit) String() string {
	if e.Op == OpUnset {
		return fmt.Sprintf("unset %s", strings.Join(e.Path, "."))
	}
	return fmt.Sprintf("set %s=%v", strings.Join(e.Path, "."), e.Value)
}

// Compute returns the ordered edits that transform base into next.
// Both documents must be JSON-shaped (map[string]any, []any, string, float64,
// bool, nil). Output order is deterministic: keys are visited sorted, nested
// maps are descended into, and equal inputs produce a nil slice. The same
// (base, next) pair always yields the identical edit sequence, which lets the
// authority and its clients exchange diffs as part of the wire contract.
func Compute(base, next map[string]any) []Edit {
	var edits []Edit
	computeInto(nil, base, next, &edits)
	return edits
}

func computeInto(prefix []string, base, next map[string]any, edits *[]Edit) {
	keys := make([]string, 0, len(base)+len(next))
	seen := make(map[string]bool, len(base)+len(next))
	for k := range base {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range next {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := appendPath(prefix, k)
		bv, inBase := base[k]
		nv, inNext := next[k]

		switch {
		case !inNext:
			*edits = append(*edits, Edit{Path: path, Op: OpUnset})
		case !inBase:
			*edits = append(*edits, Edit{Path: path, Op: OpSet, Value: CloneValue(nv)})
		default:
			bm, bIsMap := bv.(map[string]any)
			nm, nIsMap := nv.(map[string]any)
			if bIsMap && nIsMap {
				computeInto(path, bm, nm, edits)
			} else if !reflect.DeepEqual(bv, nv) {
				*edits = append(*edits, Edit{Path: path, Op: OpSet, Value: CloneValue(nv)})
			}
		}
	}
}

// Apply interprets edits against doc in order, mutating doc in place.
// Set creates intermediate maps as needed; values are cloned on insertion so
// the edits stay free of aliasing with the document. Returns ErrBadPath if an
// intermediate path step resolves to a non-map value.
func Apply(doc map[string]any, edits []Edit) error {
	for _, e := range edits {
		if len(e.Path) == 0 {
			return fmt.Errorf("diff: empty path in %s edit", e.Op)
		}
		parent := doc
		for i, step := range e.Path[:len(e.Path)-1] {
			child, ok := parent[step]
			if !ok {
				if e.Op == OpUnset {
					parent = nil
					break
				}
				m := make(map[string]any)
				parent[step] = m
				parent = m
				continue
			}
			m, ok := child.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s at %q", ErrBadPath, strings.Join(e.Path, "."), e.Path[i])
			}
			parent = m
		}
		if parent == nil {
			continue // unset below a missing branch
		}

		leaf := e.Path[len(e.Path)-1]
		switch e.Op {
		case OpSet:
			parent[leaf] = CloneValue(e.Value)
		case OpUnset:
			delete(parent, leaf)
		default:
			return fmt.Errorf("diff: unknown op %q", e.Op)
		}
	}
	return nil
}

// CloneValue deep-copies a JSON-shaped value. Scalars are returned as-is.
func CloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

func appendPath(prefix []string, step string) []string {
	path := make([]string, len(prefix)+1)
	copy(path, prefix)
	path[len(prefix)] = step
	return path
}
