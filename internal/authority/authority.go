// ABOUTME: Canonical authority for the shared object graph: serialized change
// ABOUTME: processing, persistence, and ordered broadcast to attached sessions.

package authority

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/weft/internal/access"
	"github.com/2389/weft/internal/change"
	"github.com/2389/weft/internal/dedupe"
	"github.com/2389/weft/internal/protocol"
	"github.com/2389/weft/internal/store"
	"github.com/2389/weft/internal/syncable"
	"github.com/2389/weft/internal/transport"
)

// Options configure an Authority. Store may be nil for an ephemeral graph;
// Dedupe may be nil to accept every UID at face value.
type Options struct {
	Store  store.Store
	Dedupe *dedupe.Cache
	Logger *slog.Logger
}

// Authority owns the canonical object graph. All changes pass through
// Process under a single mutex, which gives them a total order: every
// attached session observes the same sequence of broadcasts, and a session's
// initialize snapshot is consistent with the broadcasts that follow it.
type Authority struct {
	logger *slog.Logger

	manager *syncable.Manager
	plant   *change.Plant
	db      store.Store
	dupes   *dedupe.Cache

	broadcaster *Broadcaster

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates an authority around a factory and plant. Call Load before
// attaching sessions when a store is configured.
func New(factory *syncable.Factory, plant *change.Plant, opts Options) *Authority {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authority")

	return &Authority{
		logger:      logger,
		manager:     syncable.NewManager(factory),
		plant:       plant,
		db:          opts.Store,
		dupes:       opts.Dedupe,
		broadcaster: NewBroadcaster(logger),
		sessions:    make(map[string]*Session),
	}
}

// Load populates the graph from the store. Call once at startup, before any
// session attaches.
func (a *Authority) Load(ctx context.Context) error {
	if a.db == nil {
		return nil
	}

	records, err := a.db.LoadAll(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range records {
		a.manager.Add(rec, false)
	}

	a.logger.Info("graph loaded", "records", len(records))
	return nil
}

// Subscribe registers an in-process observer of accepted broadcasts. The
// subscription is cleaned up when ctx is cancelled.
func (a *Authority) Subscribe(ctx context.Context) (<-chan *protocol.Sync, string) {
	return a.broadcaster.Subscribe(ctx)
}

// Attach registers a connection as a live session for the given actor. The
// actor record is created on first sight, the full graph snapshot is queued
// as the session's initialize payload, and the session's read loop starts.
// The session detaches itself when the connection drops.
func (a *Authority) Attach(conn transport.Conn, actorRef syncable.Ref) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if created := a.ensureActorLocked(actorRef); created != nil {
		// Existing sessions learn about the new actor through a
		// source-less broadcast.
		a.broadcastLocked(&protocol.Sync{Syncables: []*syncable.Syncable{created}})
	}

	s := newSession(a, conn, actorRef)
	a.sessions[s.id] = s

	init := &protocol.Initialize{
		ActorRef:  actorRef,
		Syncables: a.manager.Records(),
	}
	s.enqueue(protocol.NewInitialize(init))

	a.logger.Info("session attached",
		"session_id", s.id,
		"actor", actorRef.String(),
		"total_sessions", len(a.sessions))

	s.start()
	return s, nil
}

// ensureActorLocked creates and persists the actor record if the graph has
// never seen this identity. Returns the new record, or nil when it existed.
func (a *Authority) ensureActorLocked(actorRef syncable.Ref) *syncable.Syncable {
	if a.manager.Has(actorRef) {
		return nil
	}

	rec := syncable.New(actorRef.Type, actorRef.ID)
	a.manager.Add(rec, false)
	a.persistUpsert(rec)

	a.logger.Info("actor record created", "actor", actorRef.String())
	return rec.Clone()
}

// detach removes a session. Called by the session itself when its connection
// closes.
func (a *Authority) detach(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions[s.id]; !ok {
		return
	}
	delete(a.sessions, s.id)
	a.logger.Info("session detached",
		"session_id", s.id,
		"actor", s.actor.String(),
		"total_sessions", len(a.sessions))
}

// Process runs one change packet through the plant on behalf of a session.
// Accepted changes apply to the canonical graph, persist, and broadcast to
// every session with the packet's UID as the source. Rejected changes are
// acknowledged only to the originating session, so other replicas never
// learn the UID.
func (a *Authority) Process(s *Session, packet *change.Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dupes != nil && a.dupes.CheckAndMark(packet.UID) {
		a.logger.Debug("duplicate change dropped", "uid", packet.UID)
		return
	}

	delta, err := a.processLocked(s.actor, packet)
	a.record(packet, s.actor, err)

	if err != nil {
		a.logger.Warn("change rejected",
			"uid", packet.UID,
			"type", packet.Type,
			"actor", s.actor.String(),
			"error", err)
		s.enqueue(protocol.NewSync(&protocol.Sync{
			Source: &protocol.Source{UID: packet.UID, Error: err.Error()},
		}))
		return
	}

	change.Apply(a.manager, delta)
	a.persistDelta(delta)
	a.broadcastLocked(syncFromDelta(packet.UID, delta))

	a.logger.Debug("change accepted",
		"uid", packet.UID,
		"type", packet.Type,
		"updates", len(delta.Updates),
		"creations", len(delta.Creations),
		"removals", len(delta.Removals))
}

// processLocked resolves and validates one packet against the canonical
// graph under the actor's access context.
func (a *Authority) processLocked(actor syncable.Ref, packet *change.Packet) (*change.Delta, error) {
	actx := access.NewContext(a.manager)
	actx.Initialize(actor)

	resolved, err := change.Resolve(a.manager, packet)
	if err != nil {
		return nil, err
	}
	return a.plant.Process(packet, resolved, actx)
}

// broadcastLocked queues a sync on every attached session and publishes it
// to in-process subscribers. Must hold mu: the lock is what guarantees every
// session's queue receives broadcasts in the same global order.
func (a *Authority) broadcastLocked(payload *protocol.Sync) {
	env := protocol.NewSync(payload)
	for _, s := range a.sessions {
		s.enqueue(env)
	}
	a.broadcaster.Publish(payload)
}

// syncFromDelta converts an applied delta into the wire broadcast: diffs for
// updates, whole snapshots for creations, refs for removals.
func syncFromDelta(uid string, delta *change.Delta) *protocol.Sync {
	payload := &protocol.Sync{
		Source:    &protocol.Source{UID: uid},
		Syncables: delta.Creations,
		Removals:  delta.Removals,
	}

	refs := make([]syncable.Ref, 0, len(delta.Updates))
	for ref := range delta.Updates {
		refs = append(refs, ref)
	}
	syncable.SortRefs(refs)
	for _, ref := range refs {
		payload.Updates = append(payload.Updates, protocol.UpdateEntry{
			Ref:   ref,
			Diffs: delta.Updates[ref].Diffs,
		})
	}
	return payload
}

// persistDelta writes an applied delta through to the store. Persistence
// failures are logged, not fatal: the canonical in-memory graph has already
// moved on, and a write that fails here is retried wholesale at the next
// snapshot of the same identity.
func (a *Authority) persistDelta(delta *change.Delta) {
	if a.db == nil {
		return
	}
	for _, upd := range delta.Updates {
		a.persistUpsert(upd.Snapshot)
	}
	for _, rec := range delta.Creations {
		a.persistUpsert(rec)
	}
	for _, ref := range delta.Removals {
		if err := a.db.Delete(context.Background(), ref); err != nil && err != store.ErrNotFound {
			a.logger.Error("persisting removal failed", "ref", ref.String(), "error", err)
		}
	}
}

func (a *Authority) persistUpsert(rec *syncable.Syncable) {
	if a.db == nil {
		return
	}
	if err := a.db.Upsert(context.Background(), rec); err != nil {
		a.logger.Error("persisting syncable failed", "ref", rec.Ref().String(), "error", err)
	}
}

// record appends the packet to the change log, accepted or not.
func (a *Authority) record(packet *change.Packet, actor syncable.Ref, procErr error) {
	if a.db == nil {
		return
	}

	rec := &store.ChangeRecord{
		UID:         packet.UID,
		ChangeType:  packet.Type,
		ActorType:   actor.Type,
		ActorID:     string(actor.ID),
		ProcessedAt: time.Now().UTC(),
	}
	if procErr != nil {
		rec.Error = procErr.Error()
	}
	if err := a.db.AppendChange(context.Background(), rec); err != nil {
		a.logger.Error("recording change failed", "uid", packet.UID, "error", err)
	}
}

// Records returns a snapshot of the canonical graph. Diagnostic surface for
// the gateway API.
func (a *Authority) Records() []*syncable.Syncable {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager.Records()
}

// SessionCount reports the number of attached sessions.
func (a *Authority) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Close detaches every session and shuts down the broadcaster. The store is
// owned by the caller.
func (a *Authority) Close() {
	a.mu.Lock()
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	a.broadcaster.Close()
}
