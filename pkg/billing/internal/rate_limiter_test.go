package internal

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(limit, window)
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	limiter, now := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.allow("10.0.0.1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, retryAfter := limiter.allow("10.0.0.1")
	if ok {
		t.Fatal("4th request should be rejected")
	}
	if retryAfter != time.Minute {
		t.Errorf("Expected retry after 1m, got %v", retryAfter)
	}

	// Other IPs have their own window
	if ok, _ := limiter.allow("10.0.0.2"); !ok {
		t.Error("different IP should be allowed")
	}

	*now = now.Add(time.Minute)
	if ok, _ := limiter.allow("10.0.0.1"); !ok {
		t.Error("request should be allowed once the window resets")
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	limiter, now := newTestLimiter(10, time.Minute)

	limiter.requests["192.168.1.100"] = &bucket{count: 5, resetAt: now.Add(-time.Second)}
	limiter.requests["192.168.1.200"] = &bucket{count: 3, resetAt: now.Add(time.Minute)}

	limiter.Cleanup()

	if _, exists := limiter.requests["192.168.1.100"]; exists {
		t.Error("Expired entry should have been removed")
	}
	if _, exists := limiter.requests["192.168.1.200"]; !exists {
		t.Error("Active entry should not have been removed")
	}
}

func TestRateLimiter_CleanupBoundsMap(t *testing.T) {
	limiter, now := newTestLimiter(10, time.Minute)

	for i := 0; i < 150; i++ {
		limiter.allow(fmt.Sprintf("172.16.0.%d", i))
	}
	if len(limiter.requests) != 150 {
		t.Fatalf("Expected 150 entries, got %d", len(limiter.requests))
	}

	// After the window every bucket is stale; the 200th request triggers cleanup
	*now = now.Add(2 * time.Minute)
	for i := 0; i < 50; i++ {
		limiter.allow("10.0.0.1")
	}
	if len(limiter.requests) > 1 {
		t.Errorf("Map size (%d) suggests expired entries were not removed", len(limiter.requests))
	}
}

func TestRateLimiter_CleanupCounterReset(t *testing.T) {
	limiter, _ := newTestLimiter(10, time.Minute)

	for i := 0; i < limiter.cleanupEvery*15; i++ {
		limiter.allow("192.168.1.1")
	}
	if limiter.requestCount > limiter.cleanupEvery*10 {
		t.Errorf("Counter should be reset, but is %d", limiter.requestCount)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter, _ := newTestLimiter(1, 30*time.Second)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/", http.NoBody)
		req.RemoteAddr = "192.168.1.5:52311"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("Expected Retry-After 30, got %q", got)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr with port", "192.168.1.5:1234", "", "192.168.1.5"},
		{"remote addr without port", "192.168.1.5", "", "192.168.1.5"},
		{"forwarded for", "10.0.0.1:1234", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"ipv6", "[2001:db8::1]:443", "", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadBodyStrict(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"a":1}`))
		body, err := ReadBodyStrict(httptest.NewRecorder(), req, 64)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"a":1}` {
			t.Errorf("unexpected body %q", body)
		}
	})

	t.Run("too large", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 65)))
		if _, err := ReadBodyStrict(httptest.NewRecorder(), req, 64); !errors.Is(err, ErrPayloadTooLarge) {
			t.Errorf("expected ErrPayloadTooLarge, got %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", http.NoBody)
		if _, err := ReadBodyStrict(httptest.NewRecorder(), req, 64); !errors.Is(err, ErrEmptyBody) {
			t.Errorf("expected ErrEmptyBody, got %v", err)
		}
	})
}
