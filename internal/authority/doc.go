// Package authority hosts the canonical copy of the shared object graph.
// Every change packet from every session funnels through one lock, giving
// changes a total order; accepted deltas are applied, persisted, and
// broadcast to all sessions as diffs tagged with the originating UID.
// Rejected packets are acknowledged only to their originator.
package authority
