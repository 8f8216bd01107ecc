// ABOUTME: Diagnostic HTTP API: graph snapshot, change log, and a
// ABOUTME: server-sent-events stream of accepted broadcasts.

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/2389/weft/internal/auth"
)

// registerAPIRoutes mounts the read-only API. Every route requires a valid
// session token; the API reveals the whole graph, so it carries the same
// auth bar as a session.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.Handle("/api/records", g.requireToken(http.HandlerFunc(g.handleRecords)))
	mux.Handle("/api/changes", g.requireToken(http.HandlerFunc(g.handleChanges)))
	mux.Handle("/api/events", g.requireToken(http.HandlerFunc(g.handleEvents)))
}

// requireToken wraps a handler with bearer token verification.
func (g *Gateway) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := auth.TokenFromRequest(r)
		if errMsg != "" {
			http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
			return
		}
		if _, err := g.verifier.Verify(token); err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRecords returns the full canonical graph as JSON.
func (g *Gateway) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.authority.Records()); err != nil {
		g.logger.Error("encoding records failed", "error", err)
	}
}

// handleChanges returns recent change log entries, newest first. Accepts a
// ?limit= query parameter.
func (g *Gateway) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if g.db == nil {
		http.Error(w, `{"error":"gateway is running without persistence"}`, http.StatusNotFound)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	changes, err := g.db.ListChanges(r.Context(), limit)
	if err != nil {
		g.logger.Error("listing changes failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(changes); err != nil {
		g.logger.Error("encoding changes failed", "error", err)
	}
}

// handleEvents streams accepted broadcasts as server-sent events until the
// client disconnects.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events, subID := g.authority.Subscribe(r.Context())
	g.logger.Debug("event stream opened", "sub_id", subID)

	for {
		select {
		case <-r.Context().Done():
			g.logger.Debug("event stream closed", "sub_id", subID)
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(payload)
			if err != nil {
				g.logger.Error("encoding event failed", "error", err)
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
