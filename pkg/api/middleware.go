// Package api provides the HTTP server and middleware for the proxy's
// /manifest, /segment, /key, and /health endpoints.
package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aminofox/hlsproxy/pkg/logger"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// ContextKeyRequestID is the key for storing the request id in context
	ContextKeyRequestID ContextKey = "request_id"
)

// RequestIDMiddleware assigns a request id to every inbound request
// (generated via uuid, or the client's X-Request-ID when present) and
// threads it through the context so the handler and any log lines it
// emits at the HTTP boundary carry the same id.
type RequestIDMiddleware struct{}

// NewRequestIDMiddleware creates a new request-id middleware.
func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{}
}

// Tag assigns a request id and stores it in the request context.
func (m *RequestIDMiddleware) Tag(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, id)
		next(w, r.WithContext(ctx))
	}
}

// RequestID extracts the request id from the request context, or ""
// if none was assigned.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(ContextKeyRequestID).(string)
	return id
}

// RateLimiter provides rate limiting middleware
type RateLimiter struct {
	mu      sync.RWMutex
	clients map[string]*clientLimiter
	logger  logger.Logger

	// Configuration
	requestsPerMinute int
	cleanupInterval   time.Duration
}

type clientLimiter struct {
	tokens     int
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter. requestsPerMinute <= 0
// disables limiting: Limit becomes a no-op passthrough.
func NewRateLimiter(requestsPerMinute int, log logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		clients:           make(map[string]*clientLimiter),
		logger:            log,
		requestsPerMinute: requestsPerMinute,
		cleanupInterval:   5 * time.Minute,
	}

	if requestsPerMinute > 0 {
		go rl.cleanup()
	}

	return rl
}

// Limit applies rate limiting based on client IP
func (rl *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	if rl.requestsPerMinute <= 0 {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		if !rl.allow(clientIP) {
			rl.logger.Warn("rate limit exceeded",
				logger.String("ip", clientIP),
				logger.String("path", r.URL.Path),
				logger.String("request_id", RequestID(r)),
			)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next(w, r)
	}
}

// allow checks if a request from the client is allowed
func (rl *RateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limiter, exists := rl.clients[clientIP]
	if !exists {
		limiter = &clientLimiter{
			tokens:     rl.requestsPerMinute,
			lastUpdate: now,
		}
		rl.clients[clientIP] = limiter
	}

	elapsed := now.Sub(limiter.lastUpdate)
	tokensToAdd := int(elapsed.Minutes() * float64(rl.requestsPerMinute))
	limiter.tokens += tokensToAdd
	if limiter.tokens > rl.requestsPerMinute {
		limiter.tokens = rl.requestsPerMinute
	}
	limiter.lastUpdate = now

	if limiter.tokens <= 0 {
		return false
	}

	limiter.tokens--
	return true
}

// cleanup removes old client limiters
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, limiter := range rl.clients {
			if now.Sub(limiter.lastUpdate) > rl.cleanupInterval {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// CORSMiddleware applies cross-origin headers for player-initiated
// requests from a browser context.
type CORSMiddleware struct {
	allowedOrigin string
}

// NewCORSMiddleware creates a new CORS middleware for a single
// configured allowed origin ("*" for any origin).
func NewCORSMiddleware(allowedOrigin string) *CORSMiddleware {
	return &CORSMiddleware{allowedOrigin: allowedOrigin}
}

// Handle applies CORS headers
func (cm *CORSMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := cm.allowedOrigin
		if origin == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if o := r.Header.Get("Origin"); o != "" && o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
