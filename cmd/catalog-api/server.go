package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"github.com/Sternrassler/catalog-cache/pkg/breaker"
	"github.com/Sternrassler/catalog-cache/pkg/cache"
	"github.com/Sternrassler/catalog-cache/pkg/metrics"
	"github.com/Sternrassler/catalog-cache/pkg/products"
	"github.com/Sternrassler/catalog-cache/pkg/ratelimit"
	"github.com/Sternrassler/catalog-cache/pkg/storage"
	"github.com/Sternrassler/catalog-cache/pkg/upstream"
)

// ExternalAPI is the part of the upstream client the handlers use.
type ExternalAPI interface {
	Sync(ctx context.Context) upstream.SyncResult
	Health() breaker.Health
}

// server holds the handler dependencies.
type server struct {
	products   *products.Service
	external   ExternalAPI
	limiter    *ratelimit.Limiter
	redis      *redis.Client
	db         *bun.DB
	production bool
	listTTL    time.Duration
	statsTTL   time.Duration
	logger     zerolog.Logger
}

// routes builds the HTTP handler tree. Probes and metrics skip the limiter.
func (s *server) routes() http.Handler {
	api := http.NewServeMux()
	api.Handle("GET /products", s.instrument("/products", http.HandlerFunc(s.handleListProducts)))
	api.Handle("GET /products/stats", s.instrument("/products/stats", http.HandlerFunc(s.handleStats)))
	api.Handle("GET /external/sync", s.instrument("/external/sync", http.HandlerFunc(s.handleExternalSync)))
	api.Handle("GET /external/health", s.instrument("/external/health", http.HandlerFunc(s.handleExternalHealth)))
	api.Handle("POST /admin/cache/invalidate", s.instrument("/admin/cache/invalidate", http.HandlerFunc(s.handleInvalidate)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/", s.rateLimit(api))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readiness struct {
	Status   string `json:"status"`
	Redis    string `json:"redis"`
	Database string `json:"database"`
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := readiness{Status: "ok", Redis: "disabled", Database: "ok"}
	code := http.StatusOK

	if s.redis != nil {
		out.Redis = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness: Redis ping failed")
			out.Redis = "unavailable"
			out.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if err := storage.Ping(ctx, s.db); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness: database ping failed")
		out.Database = "unavailable"
		out.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, out)
}

func (s *server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	params, err := products.ParseListParams(r.URL.Query())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	page, meta, err := s.products.List(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	cache.WriteHeaders(w.Header(), meta.CacheStatus, meta.Deduped)
	cache.WriteMaxAge(w.Header(), meta.CacheStatus, s.listTTL)
	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, meta, err := s.products.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	cache.WriteHeaders(w.Header(), meta.CacheStatus, meta.Deduped)
	cache.WriteMaxAge(w.Header(), meta.CacheStatus, s.statsTTL)
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleExternalSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.external.Sync(r.Context()))
}

func (s *server) handleExternalHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.external.Health())
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.production {
		writeError(w, http.StatusForbidden, "cache invalidation is disabled in production")
		return
	}

	version, err := s.products.Invalidate(r.Context())
	switch {
	case errors.Is(err, cache.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "cache is not configured")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Cache invalidation failed")
		writeError(w, http.StatusServiceUnavailable, "cache invalidation failed")
		return
	}

	s.logger.Info().Int64("version", version).Msg("Product cache invalidated")
	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

// writeServiceError maps validation errors to 400 and everything else to 500.
func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if products.IsValidationError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; nobody reads the response.
		return
	}
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// rateLimit rejects clients over the per-window budget with 429.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		decision := s.limiter.Allow(r.Context(), clientIP(r))
		decision.WriteHeaders(w.Header())
		if !decision.Allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records the access log line and HTTP metrics for route.
func (s *server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.ObserveHTTP(route, r.Method, rec.status, elapsed)

		event := s.logger.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Str("cache", rec.Header().Get(cache.HeaderCache)).
			Msg("Request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// clientIP identifies the caller for rate limiting.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
