// Package handlers is the HTTP transport for the Submission API (C8),
// Catalog Service (C7) and Artifact Accessor (C9), plus the push
// channel's websocket upgrade endpoint.
//
// Grounded on the teacher's internal/handlers/jobs.go handler shape
// (writeJSON/writeJSONError helpers, gorilla/mux route registration),
// generalized from its auth-header user lookup to this spec's opaque
// user identifier carried directly in the request body/query.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/artifact"
	"github.com/snappy-loop/videosynth/internal/catalog"
	"github.com/snappy-loop/videosynth/internal/pushchannel"
	"github.com/snappy-loop/videosynth/internal/submission"
)

// Handler bundles the read-only and mutating services the Submission
// API, Catalog Service and Artifact Accessor expose over HTTP.
type Handler struct {
	submit   *submission.Service
	catalog  *catalog.Service
	artifact *artifact.Accessor
	push     *pushchannel.Hub
}

// New builds a Handler.
func New(submit *submission.Service, cat *catalog.Service, art *artifact.Accessor, push *pushchannel.Hub) *Handler {
	return &Handler{submit: submit, catalog: cat, artifact: art, push: push}
}

// Register wires every route onto r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/jobs", h.CreateJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/cancel", h.CancelJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}/artifact", h.GetArtifact).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/thumbnail", h.GetThumbnail).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/ws", h.Subscribe).Methods(http.MethodGet)
	r.HandleFunc("/v1/statistics", h.Statistics).Methods(http.MethodGet)

	r.HandleFunc("/v1/catalog/voices", h.ListVoices).Methods(http.MethodGet)
	r.HandleFunc("/v1/catalog/avatars", h.ListAvatars).Methods(http.MethodGet)
	r.HandleFunc("/v1/catalog/stock-media", h.ListStockMedia).Methods(http.MethodGet)
	r.HandleFunc("/v1/catalog/platforms", h.ListPlatforms).Methods(http.MethodGet)
}

// CreateJob handles POST /v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req submission.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.submit.Submit(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.submit.Status(r.Context(), jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs?user=&page=&page_size=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeJSONError(w, http.StatusBadRequest, "user is required")
		return
	}
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	result, err := h.submit.ListByUser(r.Context(), user, page, pageSize)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelJob handles POST /v1/jobs/{id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if err := h.submit.Cancel(r.Context(), jobID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation acknowledged"})
}

// Statistics handles GET /v1/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.submit.Statistics(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// GetArtifact handles GET /v1/jobs/{id}/artifact.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, artifact.KindArtifact)
}

// GetThumbnail handles GET /v1/jobs/{id}/thumbnail.
func (h *Handler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, artifact.KindThumbnail)
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, kind artifact.Kind) {
	jobID := mux.Vars(r)["id"]
	resolved, err := h.artifact.Resolve(r.Context(), jobID, kind)
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", resolved.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+resolved.Filename+`"`)
	http.ServeFile(w, r, resolved.Path)
}

// Subscribe handles GET /v1/jobs/{id}/ws — the push channel upgrade.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if err := h.push.Subscribe(w, r, jobID); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("websocket subscribe failed")
	}
}

// ListVoices handles GET /v1/catalog/voices.
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	filter := catalog.VoiceFilter{
		Locale:        r.URL.Query().Get("locale"),
		Gender:        r.URL.Query().Get("gender"),
		Style:         r.URL.Query().Get("style"),
		NameSubstring: r.URL.Query().Get("name"),
	}
	voices, err := h.catalog.ListVoices(r.Context(), filter, queryInt(r, "limit", 50))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"voices": voices})
}

// ListAvatars handles GET /v1/catalog/avatars.
func (h *Handler) ListAvatars(w http.ResponseWriter, r *http.Request) {
	filter := catalog.AvatarFilter{
		Style:         r.URL.Query().Get("style"),
		NameSubstring: r.URL.Query().Get("name"),
	}
	avatars, err := h.catalog.ListAvatars(r.Context(), filter, queryInt(r, "limit", 50))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"avatars": avatars})
}

// ListStockMedia handles GET /v1/catalog/stock-media.
func (h *Handler) ListStockMedia(w http.ResponseWriter, r *http.Request) {
	filter := catalog.StockMediaFilter{
		MediaType:     r.URL.Query().Get("media_type"),
		TagSubstring:  r.URL.Query().Get("tag"),
		NameSubstring: r.URL.Query().Get("name"),
	}
	media, err := h.catalog.ListStockMedia(r.Context(), filter, queryInt(r, "limit", 50))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stock_media": media})
}

// ListPlatforms handles GET /v1/catalog/platforms.
func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := h.catalog.ListPlatforms(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"platforms": platforms})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeErr maps an apperr sentinel kind to the HTTP status §7 assigns it.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrNotReady):
		writeJSONError(w, http.StatusConflict, "job is not ready")
	case errors.Is(err, apperr.ErrGone):
		writeJSONError(w, http.StatusGone, "artifact no longer available")
	case errors.Is(err, apperr.ErrShuttingDown):
		writeJSONError(w, http.StatusServiceUnavailable, "service is shutting down")
	case errors.Is(err, apperr.ErrStoreUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		log.Error().Err(err).Msg("unhandled internal error")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
