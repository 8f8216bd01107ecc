// ABOUTME: Client session: optimistic local apply, pending-intent queue, and
// ABOUTME: snapshot/diff reconciliation against the authority's broadcast stream.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/weft/internal/access"
	"github.com/2389/weft/internal/change"
	"github.com/2389/weft/internal/diff"
	"github.com/2389/weft/internal/protocol"
	"github.com/2389/weft/internal/syncable"
	"github.com/2389/weft/internal/transport"
)

// ErrProtocolDesync indicates the authority acknowledged an intent that is
// not the head of the pending queue: client and authority disagree on
// history. Fatal for the session; never silently recovered.
var ErrProtocolDesync = errors.New("protocol desync")

// ErrNotReady is returned by Issue before the initial snapshot has arrived.
var ErrNotReady = errors.New("client not initialized")

// AssociateOptions mirror the $associate option keys. Requisite defaults to
// the value of Secures when nil.
type AssociateOptions struct {
	Name      string
	Requisite *bool
	Secures   bool
}

// Client maintains a local replica of the shared graph: the last
// authoritative base plus all locally-issued, not-yet-acknowledged intents
// applied in order. Message handling is strictly sequential per session; the
// mutex serializes caller issues against the Run loop.
type Client struct {
	logger *slog.Logger
	conn   transport.Conn

	manager *syncable.Manager
	ctx     *access.Context
	plant   *change.Plant

	mu        sync.Mutex
	pending   []*change.Packet
	snapshots map[syncable.Ref]*syncable.Syncable
	ready     bool

	readyCh   chan struct{}
	readyOnce sync.Once
}

// New creates a client over an established connection. The factory supplies
// domain wrapper types; the plant carries the domain change handlers. Pass
// nil logger for the default.
func New(conn transport.Conn, factory *syncable.Factory, plant *change.Plant, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	manager := syncable.NewManager(factory)
	return &Client{
		logger:    logger.With("component", "client"),
		conn:      conn,
		manager:   manager,
		ctx:       access.NewContext(manager),
		plant:     plant,
		snapshots: make(map[syncable.Ref]*syncable.Syncable),
		readyCh:   make(chan struct{}),
	}
}

// Ready is closed once the initial snapshot has been applied.
func (c *Client) Ready() <-chan struct{} {
	return c.readyCh
}

// Context returns the session's actor context.
func (c *Client) Context() *access.Context {
	return c.ctx
}

// Run processes inbound messages until the connection closes, the context is
// cancelled, or a fatal protocol violation occurs. ErrProtocolDesync is
// returned as a hard session termination; the transport layer owns
// reconnect-and-reinitialize.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		env, err := c.conn.Receive()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return ctx.Err()
			}
			return err
		}

		switch env.Kind {
		case protocol.KindInitialize:
			c.handleInitialize(env.Initialize)
		case protocol.KindSync:
			if err := c.handleSync(env.Sync); err != nil {
				_ = c.conn.Close()
				return err
			}
		default:
			c.logger.Warn("unexpected inbound envelope", "kind", env.Kind)
		}
	}
}

// Issue builds a change packet with a fresh UID, applies it optimistically
// against the current local graph, queues it, and transmits it to the
// authority. Validation failures (unknown type, unresolved ref, access
// denial) surface before anything is applied or queued.
func (c *Client) Issue(changeType string, refs map[string]syncable.Ref, options map[string]any) (*change.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return nil, ErrNotReady
	}

	packet := change.NewPacket(changeType, refs, options)
	if err := c.applyPacket(packet); err != nil {
		return nil, err
	}

	c.pending = append(c.pending, packet)
	if err := c.conn.Send(protocol.NewChange(packet)); err != nil {
		return nil, fmt.Errorf("transmitting change %s: %w", packet.UID, err)
	}

	c.logger.Debug("change issued",
		"uid", packet.UID,
		"type", changeType,
		"pending", len(c.pending))
	return packet, nil
}

// Associate issues a built-in $associate change adding a named edge from
// source to target. Requisite defaults to the value of Secures.
func (c *Client) Associate(target, source syncable.Object, opts AssociateOptions) (*change.Packet, error) {
	requisite := opts.Secures
	if opts.Requisite != nil {
		requisite = *opts.Requisite
	}
	return c.Issue(change.TypeAssociate, map[string]syncable.Ref{
		"target": target.Ref(),
		"source": source.Ref(),
	}, map[string]any{
		"name":      opts.Name,
		"secures":   opts.Secures,
		"requisite": requisite,
	})
}

// Unassociate issues a built-in $unassociate change removing the named edge.
func (c *Client) Unassociate(target, source syncable.Object, name string) (*change.Packet, error) {
	return c.Issue(change.TypeUnassociate, map[string]syncable.Ref{
		"target": target.Ref(),
		"source": source.Ref(),
	}, map[string]any{"name": name})
}

// GetObjects returns wrappers for every record of the given type, or the
// whole graph when typeName is empty.
func (c *Client) GetObjects(typeName string) []syncable.Object {
	return c.manager.Objects(typeName)
}

// GetObject returns the wrapper for ref, or false on a legitimate miss.
func (c *Client) GetObject(ref syncable.Ref) (syncable.Object, bool) {
	return c.manager.Get(ref)
}

// RequireObject is GetObject for contexts where absence is a protocol
// violation.
func (c *Client) RequireObject(ref syncable.Ref) (syncable.Object, error) {
	return c.manager.Require(ref)
}

// PendingCount reports the number of unacknowledged intents.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// handleInitialize bootstraps the session from a full snapshot. The graph,
// the pristine cache, the actor context, and the pending queue all reset: a
// fresh snapshot starts a fresh history.
func (c *Client) handleInitialize(init *protocol.Initialize) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manager.Clear()
	c.ctx.Clear()
	c.snapshots = make(map[syncable.Ref]*syncable.Syncable)
	c.pending = nil

	c.applySnapshotData(init.Syncables, init.Removals, false)
	c.ctx.Initialize(init.ActorRef)
	c.ready = true

	c.logger.Info("session initialized",
		"actor", init.ActorRef.String(),
		"records", len(init.Syncables))
	c.readyOnce.Do(func() { close(c.readyCh) })
}

// handleSync reconciles one authoritative broadcast: match the source UID
// against the pending head, fold the payload into the pristine base, rewind
// the graph to that base, then replay the still-pending intents over it.
func (c *Client) handleSync(payload *protocol.Sync) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if payload.Source == nil {
		c.applySnapshotData(payload.Syncables, payload.Removals, false)
		return nil
	}

	matched, err := c.shiftPending(payload.Source.UID)
	if err != nil {
		return err
	}
	if matched && payload.Source.Error != "" {
		c.logger.Warn("change rejected by authority",
			"uid", payload.Source.UID,
			"error", payload.Source.Error)
	}

	c.applySnapshotData(payload.Syncables, payload.Removals, matched)

	for _, entry := range payload.Updates {
		if err := c.applyAuthoritativeUpdate(entry.Ref, entry.Diffs); err != nil {
			return err
		}
	}

	c.restorePristine()
	c.replayPending()
	return nil
}

// restorePristine rewinds the graph to the last authority-confirmed base:
// speculative creations vanish, speculatively removed records come back, and
// every surviving identity takes its pristine value. This makes the replay
// that follows start from the authoritative base — a dequeued intent's
// optimistic effect disappears because it is never re-applied, and a
// still-pending intent applies exactly once even when the broadcast never
// named its record.
func (c *Client) restorePristine() {
	for _, rec := range c.manager.Records() {
		if _, ok := c.snapshots[rec.Ref()]; !ok {
			c.manager.Remove(rec.Ref())
		}
	}
	for _, snap := range c.snapshots {
		c.manager.Update(snap.Clone())
	}
}

// shiftPending matches an acknowledged UID against the queue. The head
// dequeues; a UID buried deeper in the queue means the two sides disagree on
// ordering and is fatal; a UID not in the queue at all is another session's
// change and simply does not match.
func (c *Client) shiftPending(uid string) (bool, error) {
	if len(c.pending) == 0 {
		return false, nil
	}
	if c.pending[0].UID == uid {
		c.pending = c.pending[1:]
		return true, nil
	}
	for _, packet := range c.pending[1:] {
		if packet.UID == uid {
			return false, fmt.Errorf("%w: acknowledged %s but pending head is %s", ErrProtocolDesync, uid, c.pending[0].UID)
		}
	}
	return false, nil
}

// applySnapshotData writes authority-confirmed records into both the graph
// and the pristine snapshot cache, and purges removals from both.
func (c *Client) applySnapshotData(syncables []*syncable.Syncable, removals []syncable.Ref, isUpdate bool) {
	for _, rec := range syncables {
		c.manager.Add(rec, isUpdate)
		c.snapshots[rec.Ref()] = rec.Clone()
	}
	for _, ref := range removals {
		c.manager.Remove(ref)
		delete(c.snapshots, ref.Identity())
	}
}

// applyAuthoritativeUpdate applies ordered structural diffs to the pristine
// snapshot — never to the possibly-speculative current value — and promotes
// the result to both the new pristine base and the new store value,
// discarding any local speculative mutation for that identity.
func (c *Client) applyAuthoritativeUpdate(ref syncable.Ref, edits []diff.Edit) error {
	key := ref.Identity()
	snap, ok := c.snapshots[key]
	if !ok {
		return fmt.Errorf("authoritative diff for unknown snapshot %s", ref)
	}

	doc, err := snap.Doc()
	if err != nil {
		return err
	}
	if err := diff.Apply(doc, edits); err != nil {
		return fmt.Errorf("applying diffs for %s: %w", ref, err)
	}
	rec, err := syncable.FromDoc(doc)
	if err != nil {
		return fmt.Errorf("rebuilding %s after diffs: %w", ref, err)
	}

	c.snapshots[key] = rec
	c.manager.Update(rec)
	return nil
}

// replayPending reconstitutes the speculative view: every still-pending
// intent re-runs through the plant, in original enqueue order, against the
// freshly reconciled base. An intent that no longer applies (its target was
// removed, or a rule now denies it) is discarded; the authority's eventual
// rejection would have the same effect.
func (c *Client) replayPending() {
	kept := c.pending[:0]
	for _, packet := range c.pending {
		if err := c.applyPacket(packet); err != nil {
			c.logger.Warn("dropping pending change after reconciliation",
				"uid", packet.UID,
				"type", packet.Type,
				"error", err)
			continue
		}
		kept = append(kept, packet)
	}
	c.pending = kept
}

// applyPacket runs one packet through the plant against the current local
// graph and applies the delta. Purely local; transmission is the caller's
// concern.
func (c *Client) applyPacket(packet *change.Packet) error {
	resolved, err := change.Resolve(c.manager, packet)
	if err != nil {
		return err
	}
	delta, err := c.plant.Process(packet, resolved, c.ctx)
	if err != nil {
		return err
	}
	change.Apply(c.manager, delta)
	return nil
}
