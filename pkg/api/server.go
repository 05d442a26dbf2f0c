package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aminofox/hlsproxy/pkg/analytics"
	"github.com/aminofox/hlsproxy/pkg/config"
	"github.com/aminofox/hlsproxy/pkg/initcache"
	"github.com/aminofox/hlsproxy/pkg/logger"
	"github.com/aminofox/hlsproxy/pkg/segment"
)

// Server is the proxy's HTTP server: it wires the rewriter, segment
// fetcher, decrypt dispatch, and init-segment cache into the four
// endpoints the player talks to.
type Server struct {
	logger      logger.Logger
	fetcher     *segment.Router
	cache       initcache.Cache
	health      *analytics.HealthMonitor
	corsMW      *CORSMiddleware
	requestIDMW *RequestIDMiddleware
	rateLimiter *RateLimiter

	addr            string
	externalURL     string
	manifestTimeout time.Duration
	segmentTimeout  time.Duration
	maxSegmentBytes int64
}

// NewServer builds a Server from cfg: the HTTP (and, if configured,
// S3) origin fetcher, the init-segment cache backend, and the
// middleware chain.
func NewServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	httpClient := &http.Client{}
	httpFetcher := segment.NewHTTPFetcher(httpClient, log)

	var s3Fetcher *segment.S3Fetcher
	if cfg.Proxy.S3.Region != "" {
		var err error
		s3Fetcher, err = segment.NewS3Fetcher(context.Background(), segment.S3Config{
			Region:          cfg.Proxy.S3.Region,
			AccessKeyID:     cfg.Proxy.S3.AccessKeyID,
			SecretAccessKey: cfg.Proxy.S3.SecretAccessKey,
			Endpoint:        cfg.Proxy.S3.Endpoint,
		})
		if err != nil {
			return nil, err
		}
	}

	var cache initcache.Cache
	if cfg.Cache.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		cache = initcache.NewRedisCache(client, "hlsproxy:init:")
	} else {
		cache = initcache.NewLRUCache(cfg.Cache.Capacity)
	}

	health := analytics.NewHealthMonitor()
	health.RegisterChecker(analytics.NewSimpleHealthChecker("init_cache", func() error {
		return nil
	}))

	return &Server{
		logger:          log,
		fetcher:         &segment.Router{HTTP: httpFetcher, S3: s3Fetcher},
		cache:           cache,
		health:          health,
		corsMW:          NewCORSMiddleware(cfg.Server.CORSAllowedOrigin),
		requestIDMW:     NewRequestIDMiddleware(),
		rateLimiter:     NewRateLimiter(cfg.Server.RateLimitRPM, log),
		addr:            cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		externalURL:     cfg.ExternalURL(),
		manifestTimeout: cfg.Proxy.ManifestTimeout,
		segmentTimeout:  cfg.Proxy.SegmentTimeout,
		maxSegmentBytes: cfg.Proxy.MaxSegmentBytes,
	}, nil
}

// Handler builds the server's http.Handler. Server has no listen
// method of its own; tests and cmd/hlsproxy-server mount this handler
// on their own http.Server, which also handles graceful shutdown.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Addr returns the host:port the server should listen on.
func (s *Server) Addr() string {
	return s.addr
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/manifest", s.chain(s.handleManifest))
	mux.HandleFunc("/segment", s.chain(s.handleSegment))
	mux.HandleFunc("/key", s.chain(s.handleKey))
	mux.HandleFunc("/health", s.chain(s.handleHealth))
}

// chain applies the common middleware stack: request id, CORS, rate
// limiting, in that execution order.
func (s *Server) chain(handler http.HandlerFunc) http.HandlerFunc {
	handler = s.rateLimiter.Limit(handler)
	handler = s.corsMW.Handle(handler)
	handler = s.requestIDMW.Tag(handler)
	return handler
}
