package api

import (
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"sync"
	"time"

	"valley-of-ashes/internal/config"
	"valley-of-ashes/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality: labels are factions, unit types, event
// types and route patterns, never unit ids.
var (
	// Battle metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "battle_tick_duration_seconds",
		Help:    "Time spent in one engine tick including controllers",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})

	unitsAlive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battle_units_alive",
		Help: "Living units per faction",
	}, []string{"faction"})

	factionGold = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battle_gold",
		Help: "Current gold per faction",
	}, []string{"faction"})

	factionKills = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battle_kills",
		Help: "Kills credited per faction",
	}, []string{"faction"})

	towersStanding = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "battle_towers_standing",
		Help: "Towers not destroyed per faction",
	}, []string{"faction"})

	battleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_events_total",
		Help: "Battle events by type",
	}, []string{"type"})

	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_purchases_total",
		Help: "Units purchased per faction and type",
	}, []string{"faction", "unit_type"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_commands_total",
		Help: "Commands received over HTTP and websocket",
	}, []string{"cmd", "result"})

	// Event log metrics
	eventLogTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_total",
		Help: "Total events logged",
	})

	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "ws_rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_rate_limit_decisions_total",
		Help: "Token bucket decisions per request class",
	}, []string{"class", "result"}) // class: "read", "command"; result: "allowed", "limited"

	rateLimitClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "api_rate_limit_clients",
		Help: "Client IPs currently tracked by the rate limiter",
	})

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is path pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket broadcasts sent",
	})
)

// StartDebugServer starts the internal observability server.
// CRITICAL: This MUST bind to localhost only to prevent pprof-based DoS.
func StartDebugServer(cfg config.DebugConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if !isLoopback(cfg.ListenAddr) && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		log.Println("⚠️ Debug server forced to localhost for security")
		cfg.ListenAddr = "127.0.0.1:6060"
	}

	handler := DebugHandler()

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// DebugHandler serves pprof, prometheus metrics and a health check.
func DebugHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// metricsMiddleware records latency per chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// RecordTick records tick timing and per-faction gauges from the published snapshot.
func RecordTick(duration time.Duration, snap *game.BattleSnapshot) {
	tickDuration.Observe(duration.Seconds())
	if snap == nil {
		return
	}
	for _, fs := range snap.Factions {
		if fs.Faction == game.FactionNeutral.String() {
			continue
		}
		unitsAlive.WithLabelValues(fs.Faction).Set(float64(fs.Alive))
		factionGold.WithLabelValues(fs.Faction).Set(float64(fs.Gold))
		factionKills.WithLabelValues(fs.Faction).Set(float64(fs.Kills))
		towersStanding.WithLabelValues(fs.Faction).Set(float64(fs.StandingTowers))
	}
}

// RecordEvents counts a tick's drained battle events.
func RecordEvents(events []game.Event) {
	for _, ev := range events {
		battleEvents.WithLabelValues(ev.Type.String()).Inc()
		if ev.Type == game.EventTypePurchase {
			purchasesTotal.WithLabelValues(ev.Faction, ev.UnitType).Inc()
		}
	}
}

// RecordCommand counts a command outcome.
func RecordCommand(cmd string, ok bool) {
	commandsTotal.WithLabelValues(cmd, strconv.FormatBool(ok)).Inc()
}

var eventLogSeen struct {
	sync.Mutex
	total, dropped uint64
}

// UpdateEventLogStats folds cumulative event log counts into the counters.
// Counters only move forward, so the delta since the last call is added.
func UpdateEventLogStats(total, dropped uint64) {
	eventLogSeen.Lock()
	defer eventLogSeen.Unlock()

	if total > eventLogSeen.total {
		eventLogTotal.Add(float64(total - eventLogSeen.total))
		eventLogSeen.total = total
	}
	if dropped > eventLogSeen.dropped {
		eventLogDropped.Add(float64(dropped - eventLogSeen.dropped))
		eventLogSeen.dropped = dropped
	}
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "ws_rate_limit", "origin", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

func recordRateLimit(class RequestClass, allowed bool) {
	result := "limited"
	if allowed {
		result = "allowed"
	}
	rateLimitDecisions.WithLabelValues(class.String(), result).Inc()
}

func setRateLimitClients(n int) {
	rateLimitClients.Set(float64(n))
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
