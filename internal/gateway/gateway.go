// ABOUTME: Gateway orchestrator wiring store, rules, authority, and the HTTP
// ABOUTME: server that upgrades authenticated websocket sessions.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/weft/internal/access"
	"github.com/2389/weft/internal/auth"
	"github.com/2389/weft/internal/authority"
	"github.com/2389/weft/internal/change"
	"github.com/2389/weft/internal/config"
	"github.com/2389/weft/internal/dedupe"
	"github.com/2389/weft/internal/store"
	"github.com/2389/weft/internal/syncable"
	"github.com/2389/weft/internal/transport"
)

// Deps are the domain pieces a gateway serves: the wrapper factory, the rule
// registry, and the plant carrying change handlers. Zero-value fields get
// bare defaults, which yields a gateway that speaks only the built-in
// changes.
type Deps struct {
	Factory  *syncable.Factory
	Registry *access.Registry
	Plant    *change.Plant
}

func (d *Deps) applyDefaults() {
	if d.Factory == nil {
		d.Factory = syncable.NewFactory()
	}
	if d.Registry == nil {
		d.Registry = access.NewRegistry()
	}
	if d.Plant == nil {
		d.Plant = change.NewPlant(d.Registry)
	}
}

// Gateway hosts the authority behind an HTTP server: a websocket endpoint
// for sessions plus a small diagnostic API.
type Gateway struct {
	config    *config.Config
	logger    *slog.Logger
	authority *authority.Authority
	verifier  *auth.JWTVerifier
	db        store.Store
	dupes     *dedupe.Cache

	httpServer *http.Server
	wsSettings *transport.WSSettings
}

// initStore creates a store based on config and environment. An empty path
// (and no WEFT_DB_PATH) runs the gateway without persistence.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WEFT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return nil, nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// wsSettingsFrom merges configured sync timings over the defaults.
func wsSettingsFrom(cfg *config.Config) *transport.WSSettings {
	settings := transport.DefaultWSSettings()
	if cfg.Sync.WriteTimeout > 0 {
		settings.WriteTimeout = cfg.Sync.WriteTimeout
	}
	if cfg.Sync.ReadTimeout > 0 {
		settings.ReadTimeout = cfg.Sync.ReadTimeout
	}
	if cfg.Sync.PingInterval > 0 {
		settings.PingInterval = cfg.Sync.PingInterval
	}
	return settings
}

// newDedupe builds the change-UID dedupe cache from config.
func newDedupe(cfg *config.Config) *dedupe.Cache {
	ttl := cfg.Sync.DedupeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := cfg.Sync.DedupeSize
	if size <= 0 {
		size = 100_000
	}
	return dedupe.New(ttl, size)
}

// New creates a Gateway instance with the given configuration and domain
// dependencies. The graph is loaded from the store before New returns, so a
// returned gateway is ready to attach sessions.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	deps.applyDefaults()

	db, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Rules.Path != "" {
		if err := access.LoadRules(cfg.Rules.Path, deps.Registry); err != nil {
			return nil, fmt.Errorf("loading rules: %w", err)
		}
		logger.Info("access rules loaded", "path", cfg.Rules.Path)
	}

	dupes := newDedupe(cfg)
	hub := authority.New(deps.Factory, deps.Plant, authority.Options{
		Store:  db,
		Dedupe: dupes,
		Logger: logger,
	})
	if err := hub.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("loading graph: %w", err)
	}

	g := &Gateway{
		config:     cfg,
		logger:     logger.With("component", "gateway"),
		authority:  hub,
		verifier:   auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		db:         db,
		dupes:      dupes,
		wsSettings: wsSettingsFrom(cfg),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/sync", g.handleSync)
	g.registerAPIRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Authority exposes the underlying authority, mainly for embedding the
// gateway in tests or in-process peers.
func (g *Gateway) Authority() *authority.Authority {
	return g.authority
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.authority.Close()
	g.dupes.Close()

	if g.db != nil {
		if err := g.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleSync authenticates the request, upgrades it to a websocket, and
// attaches the connection as a session for the token's actor.
func (g *Gateway) handleSync(w http.ResponseWriter, r *http.Request) {
	token, errMsg := auth.TokenFromRequest(r)
	if errMsg != "" {
		http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
		return
	}

	actor, err := g.verifier.Verify(token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := transport.Upgrade(w, r, g.wsSettings)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if _, err := g.authority.Attach(conn, actor); err != nil {
		g.logger.Error("attaching session failed", "actor", actor.String(), "error", err)
		_ = conn.Close()
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ok (%d sessions)", g.authority.SessionCount())
}
