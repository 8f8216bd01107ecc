// Package gateway assembles a runnable weft server: SQLite-backed store,
// TOML-defined access rules, the authority hub, and an HTTP server exposing
// the authenticated /sync websocket endpoint plus a read-only diagnostic
// API.
package gateway
