package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aminofox/hlsproxy/pkg/logger"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	mw := NewRequestIDMiddleware()
	var seen string
	handler := mw.Tag(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if seen == "" {
		t.Fatal("expected a generated request id")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("response header does not match context id: %q vs %q", rec.Header().Get("X-Request-ID"), seen)
	}
}

func TestRequestIDMiddlewarePreservesClientID(t *testing.T) {
	mw := NewRequestIDMiddleware()
	var seen string
	handler := mw.Tag(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if seen != "client-supplied" {
		t.Fatalf("expected client-supplied id to be preserved, got %q", seen)
	}
}

func TestRateLimiterDisabledWhenZero(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	handler := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected disabled limiter to pass through, got %d", rec.Code)
	}
}

func TestRateLimiterBlocksAfterBudgetExhausted(t *testing.T) {
	rl := NewRateLimiter(1, logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	handler := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.1:1234"

	rec1 := httptest.NewRecorder()
	handler(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", rec2.Code)
	}
}

func TestCORSMiddlewareWildcard(t *testing.T) {
	cm := NewCORSMiddleware("*")
	handler := cm.Handle(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://player.example.com")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	cm := NewCORSMiddleware("*")
	called := false
	handler := cm.Handle(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodOptions, "/manifest", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if called {
		t.Fatal("preflight request should not reach the wrapped handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
}

func TestGetClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if ip := getClientIP(req); ip != "203.0.113.9" {
		t.Fatalf("expected forwarded ip, got %q", ip)
	}
}
