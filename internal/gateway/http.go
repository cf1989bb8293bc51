package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HTTPHandler exposes the gateway's REST endpoints: the bucket
// notification webhook and a direct archive upload front door.
type HTTPHandler struct {
	pipeline      *Pipeline
	logger        *zap.Logger
	ingressBucket string
	maxSizeBytes  int64
	formMemBytes  int64
	router        chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(pipeline *Pipeline, logger *zap.Logger, ingressBucket string, maxSizeBytes, formMemBytes int64) *HTTPHandler {
	h := &HTTPHandler{
		pipeline:      pipeline,
		logger:        logger,
		ingressBucket: ingressBucket,
		maxSizeBytes:  maxSizeBytes,
		formMemBytes:  formMemBytes,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)
	r.Post("/api/v1/notifications", h.handleNotification)
	r.Post("/api/v1/archives", h.handleArchiveUpload)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleNotification runs one bucket-event batch through the pipeline.
// Partial failures are encoded in the results, never in the HTTP
// status; only an unparseable body is a request-level error.
func (h *HTTPHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	var n Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}

	results := h.pipeline.Run(r.Context(), n)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "processing complete",
		"results": results,
	})
}

// handleArchiveUpload stores an archive in the ingress bucket with its
// form fields as user metadata, then feeds it through the same
// pipeline a bucket notification would. Deployments without
// notification wiring use this as the front door.
func (h *HTTPHandler) handleArchiveUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > 0 && r.ContentLength > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if header.Size > h.maxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds max size limit")
		return
	}

	metadata := map[string]string{}
	for key, values := range r.MultipartForm.Value {
		if key == "file" || len(values) == 0 {
			continue
		}
		metadata[strings.ToLower(key)] = values[len(values)-1]
	}

	key := fmt.Sprintf("%s/%s", time.Now().UTC().Format("2006/01/02"), header.Filename)

	if err := h.pipeline.store.Put(r.Context(), h.ingressBucket, key, file, header.Size, metadata); err != nil {
		h.logger.Error("archive upload failed", zap.String("file_key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	// The pipeline percent-decodes every delivered key, so the
	// synthesized record carries the stored key encoded the way a real
	// bucket notification would deliver it.
	results := h.pipeline.Run(r.Context(), Notification{
		Records: []NotificationRecord{{
			EventTime: time.Now().UTC(),
			S3: S3Entity{
				Bucket: S3Bucket{Name: h.ingressBucket},
				Object: S3Object{Key: url.QueryEscape(key), Size: header.Size},
			},
		}},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "processing complete",
		"results": results,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
