package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	for i := range 5 {
		if w := hit(h, "127.0.0.1:12345"); w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestRateLimit_BlocksOverLimitWithRetryAfter(t *testing.T) {
	t.Parallel()

	// burst=2, rps=0.5: the third request must wait about two seconds.
	rl, stop := newRateLimiter(0.5, 2, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	hit(h, "10.0.0.1:9999")
	hit(h, "10.0.0.1:9999")
	w := hit(h, "10.0.0.1:9999")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || secs < 1 || secs > 2 {
		t.Errorf("Retry-After: %q", w.Header().Get("Retry-After"))
	}
}

func TestRateLimit_RejectionDoesNotConsumeTokens(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(20, 1, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	hit(h, "10.0.0.3:1")
	for range 5 {
		hit(h, "10.0.0.3:1")
	}
	time.Sleep(100 * time.Millisecond)
	if w := hit(h, "10.0.0.3:1"); w.Code != http.StatusOK {
		t.Errorf("bucket should refill after rejected requests, got %d", w.Code)
	}
}

func TestRateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	for range 5 {
		hit(h, "192.168.1.1:1111")
	}
	if w := hit(h, "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("IP B: expected 200, got %d", w.Code)
	}
}

func TestRateLimit_Evict(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, slog.Default())
	stop()
	stop()

	rl.getLimiter("a")
	rl.getLimiter("b")
	rl.evict(time.Now().Add(time.Second))
	if n := rl.size(); n != 0 {
		t.Errorf("want all entries evicted, %d left", n)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"::1:8080", "::1"},
		{"noport", "noport"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()
	for d, want := range map[time.Duration]int{0: 1, 300 * time.Millisecond: 1, 1500 * time.Millisecond: 2, 3 * time.Second: 3} {
		if got := retryAfterSeconds(d); got != want {
			t.Errorf("%v: want %d, got %d", d, want, got)
		}
	}
}
