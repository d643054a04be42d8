// Package rest exposes the memory engine over HTTP: memory lifecycle,
// retrieval, graph traversal, the knowledge entities, and the activity
// event stream. Routes live under /api/v1; /health and /metrics sit at the
// root and bypass authentication.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/events"
	"github.com/scrypster/engram/internal/metrics"
)

// Pinger reports store reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
	Backend() string
}

// Deps are the services the router dispatches to.
type Deps struct {
	Memories  *engine.MemoryService
	Retriever *engine.Retriever
	Graph     *engine.GraphService
	Knowledge *engine.KnowledgeService
	Bus       *events.Bus
	Store     Pinger
	Metrics   *metrics.Collector
	Security  config.SecurityConfig

	// OriginPatterns are accepted websocket Origin hosts besides the
	// request host.
	OriginPatterns []string

	Logger *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &handlers{
		memories:  d.Memories,
		retriever: d.Retriever,
		graph:     d.Graph,
		knowledge: d.Knowledge,
		bus:       d.Bus,
		store:     d.Store,
		logger:    d.Logger,
	}

	router := chi.NewRouter()
	router.Use(RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(Logger(d.Logger, d.Metrics))

	router.Get("/health", h.health)
	if d.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	limiter := NewRateLimiter(d.Security.RateLimitRPS, d.Security.RateBurst)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireAuth(d.Security.APIToken))
		r.Use(limiter.Middleware)
		r.Use(WithUser)

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", h.createMemory)
			r.Get("/", h.listMemories)
			r.Get("/{id}", h.getMemory)
			r.Patch("/{id}", h.updateMemory)
			r.Post("/{id}/obsolete", h.markObsolete)
			r.Post("/{id}/links", h.linkMemories)
			r.Delete("/{id}/links/{target}", h.unlinkMemories)
		})

		r.Post("/query", h.query)
		r.Get("/graph", h.traverse)

		r.Post("/entities", h.createEntity)
		r.Get("/entities/{id}", h.getEntity)
		r.Post("/entities/{id}/memories/{memoryID}", h.linkEntityMemory)
		r.Post("/relationships", h.createRelationship)
		r.Post("/projects", h.createProject)
		r.Get("/projects/{id}", h.getProject)
		r.Post("/documents", h.createDocument)
		r.Get("/documents/{id}", h.getDocument)
		r.Post("/code-artifacts", h.createCodeArtifact)
		r.Get("/code-artifacts/{id}", h.getCodeArtifact)

		r.Get("/events", h.pullEvents)
		r.Method(http.MethodGet, "/events/ws", events.NewWebSocketHandler(d.Bus, d.Logger, nil, d.OriginPatterns))
	})
	return router
}

type handlers struct {
	memories  *engine.MemoryService
	retriever *engine.Retriever
	graph     *engine.GraphService
	knowledge *engine.KnowledgeService
	bus       *events.Bus
	store     Pinger
	logger    *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "healthy"}
	if h.store != nil {
		resp["backend"] = h.store.Backend()
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("health check: store unreachable", zap.Error(err))
			resp["status"] = "unhealthy"
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
