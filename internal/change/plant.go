// ABOUTME: The change plant: deterministic pipeline from change intent to delta.
// ABOUTME: Dispatches to type handlers, runs access control, never touches the store.

package change

import (
	"errors"
	"fmt"

	"github.com/2389/weft/internal/access"
	"github.com/2389/weft/internal/diff"
	"github.com/2389/weft/internal/syncable"
)

// Plant errors
var (
	// ErrUnknownChangeType indicates a packet whose type has no registered
	// handler. Fatal for that intent, not for the session.
	ErrUnknownChangeType = errors.New("unknown change type")
)

// Handler computes the intended mutation for one change type. It works
// entirely through the transaction: reading resolved inputs, registering
// working copies, creations, and removals. Handlers never see the graph
// store, which keeps processing replayable from the same inputs.
type Handler func(tx *Transaction) error

// Plant turns change packets into deltas. It is invoked identically by the
// client (optimistic apply and replay) and the authority (canonical apply);
// both sides must produce the same delta from the same inputs.
type Plant struct {
	handlers map[string]Handler
	registry *access.Registry
}

// NewPlant creates a plant with the built-in $associate and $unassociate
// handlers registered. Domain change types are additive extensions via
// Register.
func NewPlant(registry *access.Registry) *Plant {
	p := &Plant{
		handlers: make(map[string]Handler),
		registry: registry,
	}
	p.Register(TypeAssociate, associateHandler)
	p.Register(TypeUnassociate, unassociateHandler)
	return p
}

// Register installs the handler for a change type, replacing any previous
// registration.
func (p *Plant) Register(changeType string, h Handler) {
	p.handlers[changeType] = h
}

// Process runs the pipeline: dispatch on the packet type, let the handler
// build the intended mutation, consult access control for every touched
// record, and assemble an immutable delta. A denial or handler error fails
// the whole intent atomically; no partial delta is ever returned. Process has
// no side effects on the graph.
func (p *Plant) Process(packet *Packet, resolved Resolved, ctx *access.Context) (*Delta, error) {
	handler, ok := p.handlers[packet.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChangeType, packet.Type)
	}

	tx := newTransaction(packet, resolved, ctx)
	if err := handler(tx); err != nil {
		return nil, fmt.Errorf("change %s (%s): %w", packet.Type, packet.UID, err)
	}

	delta := &Delta{Updates: make(map[syncable.Ref]Update)}

	for _, ref := range tx.touched {
		wc := tx.working[ref]
		baseDoc, err := wc.object.Syncable().Doc()
		if err != nil {
			return nil, err
		}
		nextDoc, err := wc.copy.Doc()
		if err != nil {
			return nil, err
		}
		edits := diff.Compute(baseDoc, nextDoc)
		if len(edits) == 0 {
			continue
		}
		if err := p.registry.Validate(ctx, wc.object, packet.Options); err != nil {
			return nil, err
		}
		delta.Updates[ref] = Update{Snapshot: wc.copy.Clone(), Diffs: edits}
	}

	for _, obj := range tx.removedObjects {
		if err := p.registry.Validate(ctx, obj, packet.Options); err != nil {
			return nil, err
		}
		delta.Removals = append(delta.Removals, obj.Ref())
	}

	for _, rec := range tx.creations {
		// A created record has no store-side wrapper yet; rules evaluate a
		// plain view over the new record.
		if err := p.registry.Validate(ctx, syncable.NewBase(rec), packet.Options); err != nil {
			return nil, err
		}
		delta.Creations = append(delta.Creations, rec.Clone())
	}

	return delta, nil
}

// workingCopy pairs a resolved wrapper with its mutable clone.
type workingCopy struct {
	object syncable.Object
	copy   *syncable.Syncable
}

// Transaction is the handler's working surface for one packet.
type Transaction struct {
	packet   *Packet
	resolved Resolved
	ctx      *access.Context

	working        map[syncable.Ref]*workingCopy
	touched        []syncable.Ref
	creations      []*syncable.Syncable
	removedObjects []syncable.Object
}

func newTransaction(packet *Packet, resolved Resolved, ctx *access.Context) *Transaction {
	return &Transaction{
		packet:   packet,
		resolved: resolved,
		ctx:      ctx,
		working:  make(map[syncable.Ref]*workingCopy),
	}
}

// UID returns the packet UID.
func (tx *Transaction) UID() string { return tx.packet.UID }

// Options returns the packet options. Handlers must not mutate the map.
func (tx *Transaction) Options() map[string]any { return tx.packet.Options }

// Context returns the actor context the packet is processed under.
func (tx *Transaction) Context() *access.Context { return tx.ctx }

// Input returns the resolved input for a slot.
func (tx *Transaction) Input(slot string) (Input, error) {
	in, ok := tx.resolved[slot]
	if !ok {
		return Input{}, fmt.Errorf("missing ref slot %q", slot)
	}
	return in, nil
}

// Object returns the existing wrapper in a slot. A creation-tagged slot
// fails with syncable.ErrReferenceNotFound: the identity has no record yet.
func (tx *Transaction) Object(slot string) (syncable.Object, error) {
	in, err := tx.Input(slot)
	if err != nil {
		return nil, err
	}
	if in.IsCreation() {
		return nil, fmt.Errorf("slot %q: %w: %s not yet created", slot, syncable.ErrReferenceNotFound, in.Creation.Identity())
	}
	return in.Object, nil
}

// Creation returns the creation ref in a slot.
func (tx *Transaction) Creation(slot string) (syncable.Ref, error) {
	in, err := tx.Input(slot)
	if err != nil {
		return syncable.Ref{}, err
	}
	if !in.IsCreation() {
		return syncable.Ref{}, fmt.Errorf("slot %q does not hold a creation ref", slot)
	}
	return in.Creation, nil
}

// Update registers obj for mutation and returns its working copy. Repeat
// calls for the same object return the same copy, so multi-step handlers
// compose. The underlying record is never touched.
func (tx *Transaction) Update(obj syncable.Object) *syncable.Syncable {
	ref := obj.Ref()
	if wc, ok := tx.working[ref]; ok {
		return wc.copy
	}
	wc := &workingCopy{object: obj, copy: obj.Syncable().Clone()}
	tx.working[ref] = wc
	tx.touched = append(tx.touched, ref)
	return wc.copy
}

// Create registers a new record the change brings into existence.
func (tx *Transaction) Create(rec *syncable.Syncable) {
	tx.creations = append(tx.creations, rec)
}

// Remove registers an existing record for removal.
func (tx *Transaction) Remove(obj syncable.Object) {
	tx.removedObjects = append(tx.removedObjects, obj)
}
