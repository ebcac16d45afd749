// Package ratelimit provides per-client-IP token bucket rate limiting for
// the proxy routes, with optional per-path-prefix overrides.
package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/luis-proxy/internal/apierror"
	"github.com/dskow/luis-proxy/internal/config"
	"github.com/dskow/luis-proxy/internal/metrics"
	"github.com/dskow/luis-proxy/internal/routing"
)

// GlobalScope labels buckets and metrics not covered by an override.
const GlobalScope = "global"

const (
	cleanupInterval = time.Minute
	staleAfter      = 3 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientKey separates buckets by client and by the limit that applies, so
// an override prefix never shares tokens with the global bucket.
type clientKey struct {
	ip    string
	scope string
	rate  rate.Limit
	burst int
}

// Limiter tracks per-client rate limiters and periodically drops idle ones.
type Limiter struct {
	mu           sync.RWMutex
	clients      map[clientKey]*client
	rate         rate.Limit
	burst        int
	overrides    []config.RateOverride
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// New creates a Limiter and starts its cleanup goroutine. trustedProxies
// lists CIDRs whose X-Forwarded-For header is believed.
func New(cfg config.RateLimitConfig, trustedProxies []string, logger *slog.Logger) *Limiter {
	l := &Limiter{
		clients:      make(map[clientKey]*client),
		rate:         rate.Limit(cfg.RequestsPerSecond),
		burst:        cfg.BurstSize,
		overrides:    append([]config.RateOverride(nil), cfg.Overrides...),
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// UpdateConfig applies new limits. Existing buckets are dropped so the new
// limits take effect on the next request.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rate = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
	l.overrides = append([]config.RateOverride(nil), cfg.Overrides...)
	l.clients = make(map[clientKey]*client)
}

// Middleware rejects requests over the client's limit with 429 and a
// Retry-After header.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)
			limit, burst, scope := l.limitsForPath(r.URL.Path)

			if !l.getLimiter(ip, scope, limit, burst).Allow() {
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path, "scope", scope)
				metrics.RateLimitHits.WithLabelValues(scope).Inc()
				w.Header().Set("Retry-After", retryAfter(limit))
				apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.RateLimitExceeded,
					"rate limit exceeded, retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter is the whole seconds until one token is back, at least 1.
func retryAfter(limit rate.Limit) string {
	if limit <= 0 {
		return "1"
	}
	secs := math.Ceil(1 / float64(limit))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatFloat(secs, 'f', 0, 64)
}

// clientIP extracts the real client IP. X-Forwarded-For is only trusted when
// the direct peer (RemoteAddr) is in the trusted proxies list.
func (l *Limiter) clientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return first non-trusted IP
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// limitsForPath returns the limit, burst and scope for path. The longest
// matching override prefix wins; otherwise the global limit applies.
func (l *Limiter) limitsForPath(path string) (rate.Limit, int, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var best *config.RateOverride
	for i := range l.overrides {
		o := &l.overrides[i]
		if routing.MatchesPrefix(path, o.PathPrefix) && (best == nil || len(o.PathPrefix) > len(best.PathPrefix)) {
			best = o
		}
	}
	if best != nil {
		return rate.Limit(best.RequestsPerSecond), best.BurstSize, best.PathPrefix
	}
	return l.rate, l.burst, GlobalScope
}

// getLimiter returns or creates the bucket for one client and scope.
func (l *Limiter) getLimiter(ip, scope string, r rate.Limit, burst int) *rate.Limiter {
	key := clientKey{ip: ip, scope: scope, rate: r, burst: burst}

	l.mu.RLock()
	if c, exists := l.clients[key]; exists {
		// lastSeen only needs minute precision to beat the stale cutoff.
		if time.Since(c.lastSeen) > cleanupInterval {
			l.mu.RUnlock()
			l.mu.Lock()
			c.lastSeen = time.Now()
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
		return c.limiter
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, exists := l.clients[key]; exists {
		c.lastSeen = time.Now()
		return c.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	l.clients[key] = &client{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictStale(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) evictStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > staleAfter {
			delete(l.clients, key)
		}
	}
}

// Entry describes one live bucket.
type Entry struct {
	ClientIP          string    `json:"client_ip"`
	Scope             string    `json:"scope"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	BurstSize         int       `json:"burst_size"`
	TokensAvailable   float64   `json:"tokens_available"`
	LastSeen          time.Time `json:"last_seen"`
}

// Snapshot lists the live buckets ordered by client IP, then scope.
func (l *Limiter) Snapshot() []Entry {
	l.mu.RLock()
	entries := make([]Entry, 0, len(l.clients))
	now := time.Now()
	for key, c := range l.clients {
		entries = append(entries, Entry{
			ClientIP:          key.ip,
			Scope:             key.scope,
			RequestsPerSecond: float64(key.rate),
			BurstSize:         key.burst,
			TokensAvailable:   c.limiter.TokensAt(now),
			LastSeen:          c.lastSeen,
		})
	}
	l.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ClientIP != entries[j].ClientIP {
			return entries[i].ClientIP < entries[j].ClientIP
		}
		return entries[i].Scope < entries[j].Scope
	})
	return entries
}
