package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

// Handler serves the /v1 routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes exposes handler routes.
func (h *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/uploads/presign-post", h.PresignPost)
	router.Post("/uploads/presign-put", h.PresignPut)
	router.Get("/objects/*", h.GetObject)
	router.Delete("/objects/*", h.DeleteObject)

	return router
}

// PolicyCondition is one extra POST policy condition.
type PolicyCondition struct {
	Match string `json:"match"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// PresignPostRequest is the body of POST /v1/uploads/presign-post.
type PresignPostRequest struct {
	Key           string            `json:"key"`
	ContentType   string            `json:"content_type"`
	MaxSize       int64             `json:"max_size"`
	ExpirySeconds int               `json:"expiry_seconds"`
	Conditions    []PolicyCondition `json:"conditions"`
}

// PresignPostResponse carries the form a browser submits.
type PresignPostResponse struct {
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// PresignPutRequest is the body of POST /v1/uploads/presign-put.
type PresignPutRequest struct {
	Key           string `json:"key"`
	ContentType   string `json:"content_type"`
	ExpirySeconds int    `json:"expiry_seconds"`
}

// PresignPutResponse carries the URL and the headers the upload must send.
type PresignPutResponse struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ObjectResponse is the stored metadata of an object.
type ObjectResponse struct {
	Key          string            `json:"key"`
	ContentType  string            `json:"content_type"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag"`
	CacheControl string            `json:"cache_control"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PresignPost handles POST /v1/uploads/presign-post.
func (h *Handler) PresignPost(w http.ResponseWriter, r *http.Request) {
	var req PresignPostRequest
	if !h.decode(w, r, &req) {
		return
	}

	conditions := make([]uploadtypes.PolicyCondition, 0, len(req.Conditions))
	for _, c := range req.Conditions {
		conditions = append(conditions, uploadtypes.PolicyCondition{Match: c.Match, Field: c.Field, Value: c.Value})
	}
	post, err := h.svc.GeneratePresignedPost(r.Context(), uploadtypes.PresignedPostRequest{
		Key:         req.Key,
		ContentType: req.ContentType,
		MaxSize:     req.MaxSize,
		Expiry:      time.Duration(req.ExpirySeconds) * time.Second,
		Conditions:  conditions,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, PresignPostResponse{
		URL:       post.URL,
		Fields:    post.Fields,
		ExpiresAt: post.Expires,
	})
}

// PresignPut handles POST /v1/uploads/presign-put.
func (h *Handler) PresignPut(w http.ResponseWriter, r *http.Request) {
	var req PresignPutRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.svc.GenerateUploadURL(r.Context(), req.Key, req.ContentType, time.Duration(req.ExpirySeconds)*time.Second)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, PresignPutResponse{
		URL:       u.URL,
		Method:    u.Method,
		Headers:   u.Headers,
		ExpiresAt: u.Expires,
	})
}

// GetObject handles GET /v1/objects/{key}.
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	meta, err := h.svc.GetMetadata(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, ObjectResponse{
		Key:          key,
		ContentType:  meta.ContentType,
		Size:         meta.ContentLength,
		ETag:         meta.ETag,
		CacheControl: meta.CacheControl,
		LastModified: meta.LastModified,
		Metadata:     meta.Metadata,
	})
}

// DeleteObject handles DELETE /v1/objects/{key}.
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "*")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /healthz. An open breaker reports 503.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	state := h.svc.BreakerState()
	resp := HealthResponse{Status: "ok", Breaker: state, Timestamp: time.Now()}
	status := http.StatusOK
	if state == "open" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, status, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, h.logger, http.StatusBadRequest, ErrorResponse{
			Code:    string(errors.CodeInvalidRequest),
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "code", code, "error", err)
	}
	writeJSON(w, h.logger, status, ErrorResponse{Code: string(code), Message: err.Error()})
}

// StatusFor maps an error code to the HTTP status returned to callers.
func StatusFor(code errors.Code) int {
	switch code {
	case errors.CodeInvalidKey, errors.CodeInvalidSize, errors.CodeValidationFailed, errors.CodeInvalidRequest:
		return http.StatusBadRequest
	case errors.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeRateLimited:
		return http.StatusTooManyRequests
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeCircuitOpen, errors.CodeUnavailable, errors.CodeRetryExhausted:
		return http.StatusServiceUnavailable
	case errors.CodeAuthentication, errors.CodeNetwork:
		return http.StatusBadGateway
	case errors.CodeCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
