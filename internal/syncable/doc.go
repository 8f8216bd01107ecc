// Package syncable defines the shared object graph: canonical records keyed
// by (type, id), non-owning refs, named associations, and the manager that
// owns records and lazily materializes identity-stable wrapper objects
// through a pluggable per-type factory.
package syncable
