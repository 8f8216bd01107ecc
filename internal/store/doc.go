// Package store persists the canonical object graph between gateway runs.
// Snapshots are stored whole as JSON docs keyed by (type, id); the change log
// keeps an append-only record of every processed change, accepted or
// rejected. SQLite is the production backend; MockStore serves tests.
package store
