// Package client implements the optimistic client side of the sync
// protocol: local issue with immediate apply, a strictly-FIFO pending-intent
// queue, a pristine snapshot cache as the diff base, and base-replace-then-
// replay reconciliation against the authority's broadcast stream. After each
// reconciliation the local graph equals the authoritative base plus all
// still-pending intents applied in their original order.
package client
