package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixedLimiter(perMinute int, now *time.Time) *RateLimiter {
	rl := NewRateLimiter(perMinute)
	rl.now = func() time.Time { return *now }
	return rl
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rl := fixedLimiter(2, &now)

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("10.0.0.1"); !ok {
			t.Fatalf("request %d should be within the burst", i+1)
		}
	}
	ok, wait := rl.Allow("10.0.0.1")
	if ok {
		t.Fatalf("expected third request to be limited")
	}
	if wait != 30*time.Second {
		t.Fatalf("expected 30s until the next token, got %v", wait)
	}
	if ok, _ := rl.Allow("10.0.0.2"); !ok {
		t.Fatalf("expected other client to have its own bucket")
	}

	now = now.Add(31 * time.Second)
	if ok, _ := rl.Allow("10.0.0.1"); !ok {
		t.Fatalf("expected a token after refill")
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rl := fixedLimiter(60, &now)

	rl.Allow("10.0.0.1")
	now = now.Add(limiterIdleAfter + time.Minute)
	rl.Allow("10.0.0.2")

	if _, ok := rl.clients["10.0.0.1"]; ok {
		t.Fatalf("expected idle client to be evicted")
	}
	if len(rl.clients) != 1 {
		t.Fatalf("expected one client, got %d", len(rl.clients))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	handler := limitWith(fixedLimiter(1, &now))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for _, addr := range []string{"203.0.113.7:5100", "203.0.113.7:5101", "198.51.100.2:4000"} {
		req := httptest.NewRequest(http.MethodPost, "/api/simulate", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			last = rec
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusOK {
		t.Fatalf("unexpected codes %v", codes)
	}
	if got := last.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	if got := last.Body.String(); got != `{"error":"rate limit exceeded"}` {
		t.Fatalf("unexpected body %q", got)
	}
}
