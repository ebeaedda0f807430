package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamsub/pkg/types"
)

// Service defines the methods the producer API needs.
type Service interface {
	Streams() []types.StreamInfo
	Stream(name string) (http.Handler, bool)
	Publish(name string, req types.PublishRequest) (types.PublishResponse, error)
	Ready() bool
}

func baseRouter() chi.Router {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	return r
}

func mountHealth(r chi.Router, ready func() bool) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

// NewMux returns the producer API.
//
//	GET  /streams         list streams
//	GET  /stream/{name}   subscribe (text/event-stream)
//	POST /stream/{name}   publish one event
func NewMux(svc Service) http.Handler {
	r := baseRouter()

	r.Get("/streams", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.StreamsResponse{Streams: svc.Streams()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/stream/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		h, ok := svc.Stream(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "stream not found: "+name)
			return
		}
		start := time.Now()
		lvl := requestLogLevel(r)
		if lvl >= LevelInfo {
			logEvent(r).Str("stream", name).Msg("stream start")
		}
		// Join server base context with request context so shutdown ends streams too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		h.ServeHTTP(w, r.WithContext(ctx))
		if lvl >= LevelInfo {
			logEvent(r).Str("stream", name).Dur("dur", time.Since(start)).Msg("stream end")
		}
	})

	r.Post("/stream/{name}", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		name := chi.URLParam(r, "name")
		resp, err := svc.Publish(name, req)
		if err != nil {
			if he, ok := err.(HTTPError); ok {
				writeJSONError(w, he.StatusCode(), he.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if requestLogLevel(r) >= LevelDebug {
			logEvent(r).Str("stream", name).Str("id", resp.ID).Msg("publish")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(resp)
	})

	mountHealth(r, svc.Ready)
	MountSwagger(r)
	return r
}

// NewAdminMux returns the subscriber's health and metrics API.
func NewAdminMux(ready func() bool) http.Handler {
	r := baseRouter()
	mountHealth(r, ready)
	return r
}
