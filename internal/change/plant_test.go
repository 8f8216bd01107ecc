// ABOUTME: Tests for the change plant: dispatch, purity, atomic denial, built-ins.
// ABOUTME: Covers idempotent replay and the associate/unassociate semantics.

package change

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/weft/internal/access"
	"github.com/2389/weft/internal/syncable"
)

type fixture struct {
	manager  *syncable.Manager
	ctx      *access.Context
	registry *access.Registry
	plant    *Plant
}

func newFixture(t *testing.T, records ...*syncable.Syncable) *fixture {
	t.Helper()
	m := syncable.NewManager(syncable.NewFactory())
	for _, rec := range records {
		m.Add(rec, false)
	}
	registry := access.NewRegistry()
	return &fixture{
		manager:  m,
		ctx:      access.NewContext(m),
		registry: registry,
		plant:    NewPlant(registry),
	}
}

func (f *fixture) process(t *testing.T, packet *Packet) (*Delta, error) {
	t.Helper()
	resolved, err := Resolve(f.manager, packet)
	if err != nil {
		return nil, err
	}
	return f.plant.Process(packet, resolved, f.ctx)
}

func refTo(typeName string, id syncable.ID) syncable.Ref {
	return syncable.Ref{Type: typeName, ID: id}
}

func TestProcess_UnknownChangeType(t *testing.T) {
	f := newFixture(t)
	packet := NewPacket("no-such-change", nil, nil)

	_, err := f.plant.Process(packet, Resolved{}, f.ctx)
	assert.ErrorIs(t, err, ErrUnknownChangeType)
}

func TestResolve_MissingRefFails(t *testing.T) {
	f := newFixture(t)
	packet := NewPacket(TypeAssociate, map[string]syncable.Ref{
		"target": refTo("note", "ghost"),
		"source": refTo("user", "ghost"),
	}, nil)

	_, err := Resolve(f.manager, packet)
	assert.ErrorIs(t, err, syncable.ErrReferenceNotFound)
}

func TestResolve_CreationRefsPassThrough(t *testing.T) {
	f := newFixture(t)
	packet := NewPacket("create-note", map[string]syncable.Ref{
		"note": {Type: "note", ID: "n1", Creation: true},
	}, nil)

	resolved, err := Resolve(f.manager, packet)
	require.NoError(t, err)
	in := resolved["note"]
	assert.True(t, in.IsCreation())
	assert.Equal(t, syncable.ID("n1"), in.Creation.ID)
}

func TestProcess_AssociateDefaultsRequisiteToSecures(t *testing.T) {
	note := syncable.New("note", "A")
	user := syncable.New("user", "B")
	f := newFixture(t, note, user)

	packet := NewPacket(TypeAssociate, map[string]syncable.Ref{
		"target": note.Ref(),
		"source": user.Ref(),
	}, map[string]any{"name": "owner", "secures": true})

	delta, err := f.process(t, packet)
	require.NoError(t, err)

	update, ok := delta.Updates[note.Ref()]
	require.True(t, ok)
	require.Len(t, update.Snapshot.Associations, 1)
	assoc := update.Snapshot.Associations[0]
	assert.Equal(t, user.Ref(), assoc.Ref)
	assert.Equal(t, "owner", assoc.Name)
	assert.True(t, assoc.Secures)
	assert.True(t, assoc.Requisite, "requisite must default to the value of secures")
	assert.NotEmpty(t, update.Diffs)
}

func TestProcess_AssociateThenRulePasses(t *testing.T) {
	note := syncable.New("note", "A")
	user := syncable.New("user", "B")
	f := newFixture(t, note, user)
	f.ctx.Initialize(user.Ref())

	packet := NewPacket(TypeAssociate, map[string]syncable.Ref{
		"target": note.Ref(),
		"source": user.Ref(),
	}, map[string]any{"name": "owner", "secures": true})

	delta, err := f.process(t, packet)
	require.NoError(t, err)
	Apply(f.manager, delta)

	f.registry.Register("note", access.SecuredByActorRule("secured"))
	obj, err := f.manager.Require(note.Ref())
	require.NoError(t, err)
	assert.NoError(t, f.registry.Validate(f.ctx, obj, nil))
}

func TestProcess_UnassociateRemovesEdge(t *testing.T) {
	user := syncable.New("user", "B")
	note := syncable.New("note", "A")
	note.Associate(syncable.Association{Ref: user.Ref(), Name: "owner", Secures: true, Requisite: true})
	f := newFixture(t, note, user)

	packet := NewPacket(TypeUnassociate, map[string]syncable.Ref{
		"target": note.Ref(),
		"source": user.Ref(),
	}, map[string]any{"name": "owner"})

	delta, err := f.process(t, packet)
	require.NoError(t, err)
	update, ok := delta.Updates[note.Ref()]
	require.True(t, ok)
	assert.Empty(t, update.Snapshot.Associations)
}

func TestProcess_UnassociateMissingEdgeYieldsEmptyDelta(t *testing.T) {
	note := syncable.New("note", "A")
	user := syncable.New("user", "B")
	f := newFixture(t, note, user)

	packet := NewPacket(TypeUnassociate, map[string]syncable.Ref{
		"target": note.Ref(),
		"source": user.Ref(),
	}, map[string]any{"name": "owner"})

	delta, err := f.process(t, packet)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
}

func TestProcess_AssociateToCreationRefFails(t *testing.T) {
	user := syncable.New("user", "B")
	f := newFixture(t, user)

	packet := NewPacket(TypeAssociate, map[string]syncable.Ref{
		"target": {Type: "note", ID: "unborn", Creation: true},
		"source": user.Ref(),
	}, nil)

	_, err := f.process(t, packet)
	assert.ErrorIs(t, err, syncable.ErrReferenceNotFound)
}

func TestProcess_IsPureAndIdempotent(t *testing.T) {
	note := syncable.New("note", "A")
	note.Set("count", float64(1))
	user := syncable.New("user", "B")
	f := newFixture(t, note, user)

	packet := NewPacket(TypeAssociate, map[string]syncable.Ref{
		"target": note.Ref(),
		"source": user.Ref(),
	}, map[string]any{"name": "owner"})

	resolved, err := Resolve(f.manager, packet)
	require.NoError(t, err)

	first, err := f.plant.Process(packet, resolved, f.ctx)
	require.NoError(t, err)
	second, err := f.plant.Process(packet, resolved, f.ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same packet and inputs must yield an identical delta")

	// The store record was never mutated by processing.
	obj, err := f.manager.Require(note.Ref())
	require.NoError(t, err)
	assert.Empty(t, obj.Syncable().Associations)
}

func TestProcess_DenialReturnsNoDeltaAndLeavesStoreUntouched(t *testing.T) {
	note := syncable.New("note", "A")
	user := syncable.New("user", "B")
	f := newFixture(t, note, user)
	f.registry.Register("note", access.Rule{
		Name: "deny-all",
		Test: func(*access.Context, syncable.Object, map[string]any) (bool, error) { return false, nil },
	})

	packet := NewPacket(TypeAssociate, map[string]syncable.Ref{
		"target": note.Ref(),
		"source": user.Ref(),
	}, map[string]any{"name": "owner"})

	delta, err := f.process(t, packet)
	assert.ErrorIs(t, err, access.ErrAccessDenied)
	assert.Nil(t, delta)

	obj, err := f.manager.Require(note.Ref())
	require.NoError(t, err)
	assert.Empty(t, obj.Syncable().Associations)
}

func TestProcess_DomainHandlerCreatesAndRemoves(t *testing.T) {
	old := syncable.New("note", "old")
	f := newFixture(t, old)

	f.plant.Register("rotate", func(tx *Transaction) error {
		ref, err := tx.Creation("fresh")
		if err != nil {
			return err
		}
		obsolete, err := tx.Object("obsolete")
		if err != nil {
			return err
		}
		rec := syncable.New(ref.Type, ref.ID)
		rec.Set("title", "replacement")
		tx.Create(rec)
		tx.Remove(obsolete)
		return nil
	})

	packet := NewPacket("rotate", map[string]syncable.Ref{
		"fresh":    {Type: "note", ID: "new", Creation: true},
		"obsolete": old.Ref(),
	}, nil)

	delta, err := f.process(t, packet)
	require.NoError(t, err)
	require.Len(t, delta.Creations, 1)
	require.Len(t, delta.Removals, 1)
	assert.Equal(t, syncable.ID("new"), delta.Creations[0].ID)
	assert.Equal(t, old.Ref(), delta.Removals[0])

	Apply(f.manager, delta)
	assert.False(t, f.manager.Has(old.Ref()))
	assert.True(t, f.manager.Has(refTo("note", "new")))
}

func TestProcess_DomainHandlerFieldUpdateCarriesDiffs(t *testing.T) {
	note := syncable.New("note", "A")
	note.Set("count", float64(1))
	f := newFixture(t, note)

	f.plant.Register("increment", func(tx *Transaction) error {
		obj, err := tx.Object("target")
		if err != nil {
			return err
		}
		rec := tx.Update(obj)
		count, _ := rec.Get("count")
		n, ok := count.(float64)
		if !ok {
			return fmt.Errorf("count is %T, want number", count)
		}
		rec.Set("count", n+1)
		return nil
	})

	packet := NewPacket("increment", map[string]syncable.Ref{"target": note.Ref()}, nil)
	delta, err := f.process(t, packet)
	require.NoError(t, err)

	update := delta.Updates[note.Ref()]
	assert.Equal(t, float64(2), update.Snapshot.Fields["count"])
	require.Len(t, update.Diffs, 1)
	assert.Equal(t, []string{"fields", "count"}, update.Diffs[0].Path)
}
