// Package auth issues and verifies the HS256 session tokens that bind a
// websocket connection to an actor ref.
package auth
