// Package httpapi serves presigned upload credentials and object metadata
// over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// Service is the part of the upload client the API exposes.
// *s3upload.Client satisfies it.
type Service interface {
	GenerateUploadURL(ctx context.Context, key, contentType string, expiry time.Duration) (*uploadtypes.PresignedURL, error)
	GeneratePresignedPost(ctx context.Context, req uploadtypes.PresignedPostRequest) (*uploadtypes.PresignedPost, error)
	GetMetadata(ctx context.Context, key string) (*uploadtypes.ObjectMetadata, error)
	Delete(ctx context.Context, key string) error
	BreakerState() string
}

// NewRouter builds the http.Handler. metrics may be nil.
func NewRouter(logger *slog.Logger, svc Service, metrics http.Handler) http.Handler {
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.RequestSize(maxBodySize))

	r.Mount("/v1", h.Routes())
	r.Get("/healthz", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// LoggerMiddleware logs one record per request, except health checks.
func LoggerMiddleware(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				if r.URL.Path == "/healthz" {
					return
				}
				l.Info("http request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// HealthResponse reports the breaker state of the store endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Breaker   string    `json:"breaker"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("error encoding response", "error", err)
	}
}
