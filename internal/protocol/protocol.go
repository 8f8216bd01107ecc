// ABOUTME: Typed wire messages exchanged between authority and clients.
// ABOUTME: JSON envelopes: initialize, sync, change, request.

package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/2389/weft/internal/change"
	"github.com/2389/weft/internal/diff"
	"github.com/2389/weft/internal/syncable"
)

// Kind discriminates envelope payloads.
type Kind string

const (
	// KindInitialize is the authority's full snapshot, sent once at session
	// start.
	KindInitialize Kind = "initialize"

	// KindSync is an authoritative broadcast: a full re-snapshot or an
	// incremental payload.
	KindSync Kind = "sync"

	// KindChange carries one change packet from client to authority.
	KindChange Kind = "change"

	// KindRequest carries an opaque domain-specific query.
	KindRequest Kind = "request"
)

// Initialize is the initial full snapshot plus the session's actor identity.
type Initialize struct {
	ActorRef  syncable.Ref         `json:"actorRef"`
	Syncables []*syncable.Syncable `json:"syncables,omitempty"`
	Removals  []syncable.Ref       `json:"removals,omitempty"`
}

// Source names the change UID a sync payload results from. Error is set when
// the authority rejected the change; the originator dequeues the intent
// without replaying it.
type Source struct {
	UID   string `json:"uid"`
	Error string `json:"error,omitempty"`
}

// UpdateEntry is one incremental update: ordered structural diffs to apply
// against the receiver's pristine snapshot of Ref.
type UpdateEntry struct {
	Ref   syncable.Ref `json:"ref"`
	Diffs []diff.Edit  `json:"diffs"`
}

// Sync is an authoritative broadcast. With Source set it is the outcome of
// one accepted (or rejected) change; without, a full re-snapshot.
type Sync struct {
	Source    *Source              `json:"source,omitempty"`
	Updates   []UpdateEntry        `json:"updates,omitempty"`
	Syncables []*syncable.Syncable `json:"syncables,omitempty"`
	Removals  []syncable.Ref       `json:"removals,omitempty"`
}

// Request is an opaque domain-specific query, out of engine scope.
type Request struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is the single wire frame. Exactly one payload field matching Kind
// is set.
type Envelope struct {
	Kind       Kind           `json:"kind"`
	Initialize *Initialize    `json:"initialize,omitempty"`
	Sync       *Sync          `json:"sync,omitempty"`
	Change     *change.Packet `json:"change,omitempty"`
	Request    *Request       `json:"request,omitempty"`
}

// Validate checks that the envelope carries exactly the payload its kind
// announces.
func (e *Envelope) Validate() error {
	var want bool
	switch e.Kind {
	case KindInitialize:
		want = e.Initialize != nil
	case KindSync:
		want = e.Sync != nil
	case KindChange:
		want = e.Change != nil
	case KindRequest:
		want = e.Request != nil
	default:
		return fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	if !want {
		return fmt.Errorf("envelope kind %q missing payload", e.Kind)
	}
	return nil
}

// NewInitialize wraps an initialize payload.
func NewInitialize(init *Initialize) *Envelope {
	return &Envelope{Kind: KindInitialize, Initialize: init}
}

// NewSync wraps a sync payload.
func NewSync(sync *Sync) *Envelope {
	return &Envelope{Kind: KindSync, Sync: sync}
}

// NewChange wraps a change packet.
func NewChange(packet *change.Packet) *Envelope {
	return &Envelope{Kind: KindChange, Change: packet}
}

// Encode renders the envelope as its wire bytes.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses and validates wire bytes.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
