// Package gateway provides the HTTP management API for ReplyClaw:
// template CRUD, exchange log access and dashboard statistics. It runs
// independently of the bot session against the same store.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/stats"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// Config holds gateway configuration.
type Config struct {
	// Enabled turns the HTTP API on.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (e.g. ":8000").
	Address string `yaml:"address"`

	// CORSOrigins lists allowed origins. Empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Address:     ":8000",
		CORSOrigins: []string{"*"},
	}
}

// Gateway is the HTTP API server.
type Gateway struct {
	store     *store.Store
	stats     *stats.Aggregator
	config    Config
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new Gateway.
func New(st *store.Store, agg *stats.Aggregator, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8000"
	}
	return &Gateway{
		store:  st,
		stats:  agg,
		config: cfg,
		logger: logger.With("component", "gateway"),
	}
}

// Handler builds the HTTP handler with the full middleware chain.
// Exposed separately from Start for tests.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", g.handleRoot)
	mux.HandleFunc("/templates", g.handleTemplates)
	mux.HandleFunc("/templates/", g.handleTemplateByID)
	mux.HandleFunc("/logs", g.handleLogs)
	mux.HandleFunc("/stats", g.handleStats)

	return g.securityHeadersMiddleware(g.corsMiddleware(g.loggingMiddleware(mux)))
}

// Start starts the HTTP server.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              g.config.Address,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
			errCh <- err
		}
	}()

	// Give the listener a moment to fail fast on a bad address.
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}

	g.logger.Info("gateway listening", "address", g.config.Address)
	return nil
}

// Stop shuts the server down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
