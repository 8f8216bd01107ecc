// ABOUTME: Store interface and data types for weft gateway persistence
// ABOUTME: Defines the syncable snapshot store and the processed-change log

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/weft/internal/syncable"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ChangeRecord is one processed change as it entered canonical history.
// Error is empty for accepted changes; rejected changes are recorded too so
// the log explains why a client's intent never materialized.
type ChangeRecord struct {
	UID        string
	ChangeType string
	ActorType  string
	ActorID    string
	ProcessedAt time.Time
	Error      string
}

// Store persists the canonical object graph and the change log. The gateway
// owns all writes; reads outside startup are diagnostic.
type Store interface {
	// Syncables (canonical snapshots)
	LoadAll(ctx context.Context) ([]*syncable.Syncable, error)
	Upsert(ctx context.Context, rec *syncable.Syncable) error
	Delete(ctx context.Context, ref syncable.Ref) error

	// Change log
	AppendChange(ctx context.Context, rec *ChangeRecord) error
	ListChanges(ctx context.Context, limit int) ([]*ChangeRecord, error)

	// Close releases any resources held by the store
	Close() error
}
