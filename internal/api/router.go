package api

import (
	"net/http"

	"valley-of-ashes/internal/game"
	"valley-of-ashes/internal/render"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the battle engine methods used by the API.
// This interface enables mocking for tests without spinning up the tick loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// GetSnapshot returns the latest immutable snapshot
	GetSnapshot() *game.BattleSnapshot
	// Layout returns the static terrain
	Layout() game.MapLayout
	// PurchaseUnit buys a unit; false when rejected
	PurchaseUnit(f game.Faction, t game.UnitType, lane game.Lane) bool
	// TriggerRecall starts a mass recall; false when rejected
	TriggerRecall(f game.Faction) bool
	// SpawnUnit places a unit directly; NoUnit when rejected
	SpawnUnit(f game.Faction, t game.UnitType, lane game.Lane, pos *game.Vec2) game.UnitID
	// GetEventLogStats returns event log counters
	GetEventLogStats() map[string]interface{}
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        Read:    api.Bucket{PerSecond: 1000, Burst: 1000}, // High limits for tests
//	        Command: api.Bucket{PerSecond: 1000, Burst: 1000},
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the battle engine (required)
	Engine EngineInterface

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, only localhost origins are allowed.
	CORSOrigins []string

	// MinimapWidth is the PNG width served by /api/minimap.png.
	// Zero uses render.DefaultMinimapWidth.
	MinimapWidth int

	// AIStats optionally reports economy AI counters under /api/stats.
	AIStats func() map[string]interface{}

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine  EngineInterface
	minimap *render.Minimap
	aiStats func() map[string]interface{}
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function starts no goroutines beyond the rate limiter's
// cleanup loop and opens no listeners, so it is safe to use in tests with
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		engine:  cfg.Engine,
		minimap: render.NewMinimap(cfg.Engine.Layout(), cfg.MinimapWidth),
		aiStats: cfg.AIStats,
	}

	// Reads and commands draw from separate per-IP buckets, so polling the
	// minimap never starves a client's purchases and vice versa.
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Middleware(ClassRead))
			r.Get("/state", h.handleGetState)
			r.Get("/stats", h.handleGetStats)
			r.Get("/map", h.handleGetMap)
			r.Get("/minimap.png", h.handleGetMinimap)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimiter.Middleware(ClassCommand))
			r.Post("/purchase", h.handlePurchase)
			r.Post("/recall", h.handleRecall)
			r.Post("/spawn", h.handleSpawn)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/state", http.StatusFound)
	})

	return r
}
