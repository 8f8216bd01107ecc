// Package dedupe tracks recently processed change UIDs in a time-based cache
// so a retransmitted packet is dropped instead of applied twice.
package dedupe
