package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-buro/internal/bureau"
	"github.com/ovaphlow/pitchfork/service-buro/pkg/utilities"
)

// statusRecorder remembers the status and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.size += n
	return n, err
}

// LoggingMiddleware logs every request with its request id. Server errors
// are logged at warn level, everything else at debug.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			log := logger.Debugw
			if rec.status >= http.StatusInternalServerError {
				log = logger.Warnw
			}
			log("http request",
				"request_id", r.Header.Get(requestIDHeader),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", rec.status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", rec.size,
			)
		})
	}
}

// bureau responses are JSON documents about persons: never framed, never
// cached, no active content.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

// SecurityHeadersMiddleware sets the fixed response headers, plus HSTS on
// TLS connections.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range securityHeaders {
				w.Header().Set(h[0], h[1])
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware tags every request with an X-Request-Id, keeping the
// caller's one when present.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = utilities.NewKSUID()
				r.Header.Set(requestIDHeader, id)
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r)
		})
	}
}

// AdminKeyMiddleware rejects requests whose X-API-Key does not match the
// bcrypt hash. An empty hash disables the check.
func AdminKeyMiddleware(logger *zap.SugaredLogger, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
				logger.Warnw("admin key rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	apiPrefix       = "/api/v1/buro"
	requestIDHeader = "X-Request-Id"
	apiKeyHeader    = "X-API-Key"
)

// RegisterRoutes mounts the bureau endpoints on the standard library's
// http.ServeMux. Writes go through the admin key check.
func RegisterRoutes(logger *zap.SugaredLogger, h *bureau.Handler, adminKeyHash string) http.Handler {
	mux := http.NewServeMux()
	admin := AdminKeyMiddleware(logger, adminKeyHash)

	// health
	mux.HandleFunc("GET "+apiPrefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET "+apiPrefix+"/consulta-por-cedula/{cedula}", h.QueryByPersonID)
	mux.HandleFunc("GET "+apiPrefix+"/count-core-personas", h.CountCorePersons)

	mux.Handle("POST "+apiPrefix+"/sincronizar-core", admin(http.HandlerFunc(h.SyncFromCore)))
	mux.Handle("POST "+apiPrefix+"/reconciliar", admin(http.HandlerFunc(h.Reconcile)))
	mux.Handle("POST "+apiPrefix+"/generar-mock/{cedula}", admin(http.HandlerFunc(h.GenerateMock)))
	mux.Handle("PUT "+apiPrefix+"/ingresos/{id}", admin(http.HandlerFunc(h.ReplaceIncome)))
	mux.Handle("PUT "+apiPrefix+"/egresos/{id}", admin(http.HandlerFunc(h.ReplaceExpense)))

	// request id, then logging, then security headers
	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}
