// Package change implements the change-processing pipeline ("plant"): a pure
// deterministic function from (change packet, resolved refs, actor context)
// to a structured delta of updates, creations, and removals. The plant is
// invoked identically by the optimistic client and the canonical authority,
// which is what makes replay-based reconciliation sound.
package change
