package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wisp-chat/wisp/internal/config"
	"github.com/wisp-chat/wisp/internal/observability"
)

// CORSMiddleware handles Cross-Origin Resource Sharing headers for the
// hub's ancillary HTTP surface (health, metrics, bootstrap pairing).
// Complexity: O(n) where n is the number of allowed origins
func CORSMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			allowed := false
			for _, o := range cfg.AllowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs each request with method, path, status code, and duration.
// Complexity: O(1) per request
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			perf := observability.NewPerformanceLog(logger, "http_request")

			next.ServeHTTP(ww, r)

			perf.EndWithContext(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.statusCode,
				"remote_addr": r.RemoteAddr,
			})
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// SecurityHeaders adds standard security headers to every response.
// Complexity: O(1) per request
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitEntry tracks request counts for a single IP within the current window.
type rateLimitEntry struct {
	count     int
	windowEnd time.Time
}

// MaxBodySize limits the size of the request body.
// Complexity: O(1) per request
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithHeaders implements a per-IP fixed-window rate limiter (each
// window lasts one second from the first request in it, after which the
// count starts over) and adds X-RateLimit-* response headers.
// Complexity: O(1) per request
func RateLimitWithHeaders(rps int) func(http.Handler) http.Handler {
	var mu sync.Mutex
	limits := make(map[string]*rateLimitEntry)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			now := time.Now()
			mu.Lock()
			for ip, entry := range limits {
				if now.After(entry.windowEnd) {
					delete(limits, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
				ip = strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
			}

			now := time.Now()
			mu.Lock()
			entry, exists := limits[ip]
			if !exists || now.After(entry.windowEnd) {
				limits[ip] = &rateLimitEntry{count: 1, windowEnd: now.Add(time.Second)}
				mu.Unlock()
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rps))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rps-1))
				next.ServeHTTP(w, r)
				return
			}

			entry.count++
			if entry.count > rps {
				mu.Unlock()
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rps))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			remaining := rps - entry.count
			mu.Unlock()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rps))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsMiddleware collects HTTP request metrics for the hub's ancillary
// HTTP surface using the pre-registered Prometheus metrics.
// Complexity: O(1) per request
func MetricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(mw, r)

			duration := time.Since(start).Milliseconds()
			status := strconv.Itoa(mw.statusCode)
			path := normalizePath(r.URL.Path)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(float64(duration))
		})
	}
}

// normalizePath collapses the small set of wisp's ancillary HTTP routes;
// there are no dynamic path segments to worry about at this surface, but
// the function exists so adding one later doesn't blow up metric
// cardinality by accident.
func normalizePath(path string) string {
	switch path {
	case "/health", "/health/live", "/health/ready", "/metrics", "/bootstrap":
		return path
	default:
		return "/other"
	}
}
