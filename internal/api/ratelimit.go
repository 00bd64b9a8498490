package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RequestClass selects which token bucket a request draws from. Commands
// change the battle and get a tighter bucket than reads.
type RequestClass int

const (
	ClassRead    RequestClass = iota // state, stats, map, minimap
	ClassCommand                     // purchase, recall, spawn (HTTP and websocket)
	numRequestClasses
)

func (c RequestClass) String() string {
	if c == ClassCommand {
		return "command"
	}
	return "read"
}

// Bucket is one token bucket's refill rate and burst.
type Bucket struct {
	PerSecond float64
	Burst     int
}

// RateLimitConfig configures per-client buckets for each request class.
type RateLimitConfig struct {
	Read            Bucket
	Command         Bucket
	CleanupInterval time.Duration // idle clients are forgotten after twice this
}

// DefaultRateLimitConfig lets a client poll the minimap at 10 Hz while
// capping commands well below the AI's own purchase rate.
var DefaultRateLimitConfig = RateLimitConfig{
	Read:            Bucket{PerSecond: 20, Burst: 40},
	Command:         Bucket{PerSecond: 4, Burst: 8},
	CleanupInterval: 5 * time.Minute,
}

type clientBuckets struct {
	buckets  [numRequestClasses]*rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

// IPRateLimiter keeps a read and a command bucket per client IP. Every
// decision is counted in api_rate_limit_decisions_total.
type IPRateLimiter struct {
	cfg RateLimitConfig

	mu      sync.RWMutex
	clients map[string]*clientBuckets

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter starts the idle-client sweeper. Call Stop when done.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		cfg:      cfg,
		clients:  make(map[string]*clientBuckets),
		stopChan: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop ends the sweeper.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// Allow spends one token from ip's bucket for class.
func (rl *IPRateLimiter) Allow(ip string, class RequestClass) bool {
	ok := rl.client(ip).buckets[class].Allow()
	recordRateLimit(class, ok)
	return ok
}

// Clients returns the number of tracked client IPs.
func (rl *IPRateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

func (rl *IPRateLimiter) client(ip string) *clientBuckets {
	now := time.Now().UnixNano()

	rl.mu.RLock()
	c, ok := rl.clients[ip]
	rl.mu.RUnlock()
	if !ok {
		rl.mu.Lock()
		if c, ok = rl.clients[ip]; !ok {
			c = &clientBuckets{}
			c.buckets[ClassRead] = newBucket(rl.cfg.Read)
			c.buckets[ClassCommand] = newBucket(rl.cfg.Command)
			rl.clients[ip] = c
			setRateLimitClients(len(rl.clients))
		}
		rl.mu.Unlock()
	}
	c.lastSeen.Store(now)
	return c
}

func newBucket(b Bucket) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(b.PerSecond), b.Burst)
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopChan:
			return
		case now := <-ticker.C:
			rl.sweep(now.Add(-2 * rl.cfg.CleanupInterval))
		}
	}
}

// sweep forgets clients idle since before cutoff.
func (rl *IPRateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if c.lastSeen.Load() < cutoff.UnixNano() {
			delete(rl.clients, ip)
		}
	}
	setRateLimitClients(len(rl.clients))
}

// Middleware rejects requests of class with 429 once the client's bucket
// is empty.
func (rl *IPRateLimiter) Middleware(class RequestClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(GetClientIP(r), class) {
				RecordConnectionRejected("rate_limit")
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too many "+class.String()+" requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then
// the peer address. Forwarded headers are only trustworthy behind a proxy.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// connLimiter caps concurrent websocket connections per IP. Entries are
// dropped when their count returns to zero.
type connLimiter struct {
	mu       sync.Mutex
	perIP    map[string]int
	maxPerIP int
}

func newConnLimiter(maxPerIP int) *connLimiter {
	return &connLimiter{perIP: make(map[string]int), maxPerIP: maxPerIP}
}

// acquire reserves a slot for ip; false when ip is at its cap.
func (l *connLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perIP[ip] >= l.maxPerIP {
		return false
	}
	l.perIP[ip]++
	return true
}

func (l *connLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := l.perIP[ip]; n > 1 {
		l.perIP[ip] = n - 1
	} else {
		delete(l.perIP, ip)
	}
}

func (l *connLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}
