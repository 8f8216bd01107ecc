// ABOUTME: Change intents (packets) and resolution of their refs against the graph.
// ABOUTME: A packet is immutable once created; refs resolve to wrappers or creation refs.

package change

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/weft/internal/syncable"
)

// Packet is a uniquely-identified change intent: a type discriminator
// dispatched by the plant, named ref slots, and operation options. Packets
// are immutable once created.
type Packet struct {
	UID     string                  `json:"uid"`
	Type    string                  `json:"type"`
	Refs    map[string]syncable.Ref `json:"refs,omitempty"`
	Options map[string]any          `json:"options,omitempty"`
}

// NewPacket builds a packet with a fresh UID.
func NewPacket(changeType string, refs map[string]syncable.Ref, options map[string]any) *Packet {
	return &Packet{
		UID:     uuid.New().String(),
		Type:    changeType,
		Refs:    refs,
		Options: options,
	}
}

// Input is one resolved ref slot: either an existing wrapper or a
// creation-tagged ref for an identity the change will create.
type Input struct {
	Object   syncable.Object
	Creation syncable.Ref
}

// IsCreation reports whether the slot holds a creation ref.
func (in Input) IsCreation() bool {
	return in.Object == nil
}

// Resolved maps slot names to resolved inputs.
type Resolved map[string]Input

// Resolve maps every ref slot of the packet through the graph. Creation-
// tagged refs pass through unresolved; any other ref that the graph does not
// hold fails with syncable.ErrReferenceNotFound.
func Resolve(manager *syncable.Manager, packet *Packet) (Resolved, error) {
	resolved := make(Resolved, len(packet.Refs))
	for slot, ref := range packet.Refs {
		if ref.Creation {
			resolved[slot] = Input{Creation: ref}
			continue
		}
		obj, err := manager.Require(ref)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", slot, err)
		}
		resolved[slot] = Input{Object: obj}
	}
	return resolved, nil
}
