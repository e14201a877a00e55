package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestRateLimiterAllow tests refill over time without sleeping.
func TestRateLimiterAllow(t *testing.T) {
	limiter := &rateLimiter{
		visitors: make(map[string]*visitor),
		rps:      1,
		burst:    1,
	}
	start := time.Now()

	if !limiter.allow("client", start) {
		t.Fatalf("expected first request to be allowed")
	}
	if limiter.allow("client", start) {
		t.Fatalf("expected second request to be rate limited")
	}
	if !limiter.allow("client", start.Add(1100*time.Millisecond)) {
		t.Fatalf("expected request after refill to be allowed")
	}
}

// TestRateLimiterSweep tests that idle clients are forgotten after the ttl.
func TestRateLimiterSweep(t *testing.T) {
	limiter := &rateLimiter{
		visitors: make(map[string]*visitor),
		rps:      1,
		burst:    1,
		ttl:      time.Minute,
	}
	start := time.Now()
	limiter.swept = start

	limiter.allow("idle", start)
	limiter.allow("active", start.Add(90*time.Second))
	limiter.allow("active", start.Add(2*time.Minute))

	if _, ok := limiter.visitors["idle"]; ok {
		t.Fatalf("expected idle client to be swept")
	}
	if _, ok := limiter.visitors["active"]; !ok {
		t.Fatalf("expected active client to be kept")
	}
}

// TestRateLimitHandler tests the HTTP wrapper and the disabled path.
func TestRateLimitHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	handler := NewRateLimitHandler(next, ServerConfig{RateLimitRPS: 1, RateLimitBurst: 1})

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected first request through, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	// Zero rps leaves the handler chain untouched.
	handler = NewRateLimitHandler(next, ServerConfig{})
	for i := 0; i < 5; i++ {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected request %d through with limiting off, got %d", i, rec.Code)
		}
	}
}

// TestClientIPHeaders tests the proxy header precedence.
func TestClientIPHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	if ip := clientIP(req); ip != "10.0.0.1" {
		t.Fatalf("expected remote addr host, got %q", ip)
	}

	req.Header.Set("X-Real-Ip", "192.0.2.7")
	if ip := clientIP(req); ip != "192.0.2.7" {
		t.Fatalf("expected X-Real-Ip, got %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := clientIP(req); ip != "203.0.113.9" {
		t.Fatalf("expected first X-Forwarded-For entry, got %q", ip)
	}
}
