package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Clients idle this long are forgotten; GitHub's hook senders come from a
// small address pool, so the map stays tiny in practice.
const visitorTTL = 10 * time.Minute

// visitor is one client's token bucket.
type visitor struct {
	tokens float64
	seen   time.Time
}

type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      float64
	burst    float64
	ttl      time.Duration
	swept    time.Time
}

// NewRateLimitHandler wraps next with a per-client token bucket driven by the
// server config. A non-positive rate_limit_rps disables limiting entirely.
func NewRateLimitHandler(next http.Handler, cfg ServerConfig) http.Handler {
	if cfg.RateLimitRPS <= 0 {
		return next
	}
	limiter := &rateLimiter{
		visitors: make(map[string]*visitor),
		rps:      float64(cfg.RateLimitRPS),
		burst:    float64(cfg.RateLimitBurst),
		ttl:      visitorTTL,
	}
	if limiter.burst < 1 {
		limiter.burst = limiter.rps
		if limiter.burst < 1 {
			limiter.burst = 1
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientIP(r), time.Now()) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ttl > 0 && now.Sub(l.swept) > l.ttl {
		for ip, v := range l.visitors {
			if now.Sub(v.seen) > l.ttl {
				delete(l.visitors, ip)
			}
		}
		l.swept = now
	}

	v, ok := l.visitors[key]
	if !ok {
		l.visitors[key] = &visitor{tokens: l.burst - 1, seen: now}
		return true
	}

	v.tokens += now.Sub(v.seen).Seconds() * l.rps
	if v.tokens > l.burst {
		v.tokens = l.burst
	}
	v.seen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens -= 1
	return true
}

// clientIP prefers proxy headers over the socket address, first hop wins.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
