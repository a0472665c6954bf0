package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/reels/internal/db"
	"github.com/bobarin/reels/internal/logging"
	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultStyle       = "dynamic"
	defaultFormat      = "9:16"
	defaultDurationSec = 30
	maxDurationSec     = 180
)

// ContentItems is the content item store as seen by the API.
type ContentItems interface {
	GetContentItem(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
	UpdateContentStatus(ctx context.Context, id uuid.UUID, status models.ContentStatus) error
}

type RenderQueue interface {
	EnqueueRender(ctx context.Context, input models.RenderJobInput) (*queue.Job, error)
}

type Presigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

type Handler struct {
	content ContentItems
	queue   RenderQueue
	storage Presigner
	log     zerolog.Logger
}

func NewHandler(content ContentItems, q RenderQueue, stor Presigner) *Handler {
	return &Handler{
		content: content,
		queue:   q,
		storage: stor,
		log:     logging.WithComponent("api"),
	}
}

// CreateRender handles POST /v1/renders
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ContentItemID == uuid.Nil || req.UserID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "content_item_id and user_id are required")
		return
	}

	item, err := h.content.GetContentItem(r.Context(), req.ContentItemID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && item.UserID != req.UserID) {
		respondError(w, http.StatusNotFound, "Content item not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("content_item_id", req.ContentItemID.String()).Msg("failed to load content item")
		respondError(w, http.StatusInternalServerError, "Failed to load content item")
		return
	}

	switch item.Status {
	case models.ContentStatusGenerating, models.ContentStatusRetrying:
		respondError(w, http.StatusConflict, "A render is already in progress for this item")
		return
	}

	input, msg := renderInput(req, item)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.content.UpdateContentStatus(r.Context(), item.ID, models.ContentStatusGenerating); err != nil {
		h.log.Error().Err(err).Str("content_item_id", item.ID.String()).Msg("failed to mark content item generating")
		respondError(w, http.StatusInternalServerError, "Failed to update content item")
		return
	}

	job, err := h.queue.EnqueueRender(r.Context(), input)
	if err != nil {
		h.log.Error().Err(err).Str("content_item_id", item.ID.String()).Msg("failed to enqueue render")
		// Put the item back so the caller can retry the request.
		if rerr := h.content.UpdateContentStatus(r.Context(), item.ID, item.Status); rerr != nil {
			h.log.Error().Err(rerr).Str("content_item_id", item.ID.String()).Msg("failed to restore content item status")
		}
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	h.log.Info().
		Str("job_id", job.ID.String()).
		Str("content_item_id", item.ID.String()).
		Int("clips", len(input.ClipURLs)).
		Msg("render enqueued")

	respondJSON(w, http.StatusAccepted, models.RenderAcceptedResponse{
		ContentItemID: item.ID,
		Status:        models.ContentStatusGenerating,
		QueuedAt:      job.CreatedAt,
	})
}

// renderInput fills request gaps from the content item. A non-empty message
// means the request is invalid.
func renderInput(req models.CreateRenderRequest, item *models.ContentItem) (models.RenderJobInput, string) {
	clips := req.ClipURLs
	if len(clips) == 0 {
		clips = item.MediaURLs
	}
	if len(clips) == 0 {
		return models.RenderJobInput{}, "No source clips on the request or the content item"
	}
	for _, key := range clips {
		if strings.TrimSpace(key) == "" {
			return models.RenderJobInput{}, "Clip keys must not be empty"
		}
	}

	style := req.Style
	if style == "" && item.Style != nil {
		style = *item.Style
	}
	if style == "" {
		style = defaultStyle
	}

	format := req.Format
	if format == "" && item.Format != nil {
		format = *item.Format
	}
	if format == "" {
		format = defaultFormat
	}
	switch format {
	case "9:16", "16:9", "1:1":
	default:
		return models.RenderJobInput{}, "Invalid format. Allowed: 9:16, 16:9, 1:1"
	}

	duration := req.DurationSec
	if duration == 0 && item.Duration != nil {
		duration = float64(*item.Duration)
	}
	if duration == 0 {
		duration = defaultDurationSec
	}
	if duration < 1 || duration > maxDurationSec {
		return models.RenderJobInput{}, "duration_sec must be between 1 and 180"
	}

	music := req.MusicPrompt
	if music == "" && item.MusicPrompt != nil {
		music = *item.MusicPrompt
	}

	return models.RenderJobInput{
		UserID:        item.UserID,
		ContentItemID: item.ID,
		ClipURLs:      clips,
		Style:         style,
		Format:        format,
		DurationSec:   duration,
		MusicPrompt:   music,
		ContentType:   item.Type,
	}, ""
}

// GetContentItem handles GET /v1/content-items/{id}
func (h *Handler) GetContentItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// GetContentItemDownload handles GET /v1/content-items/{id}/download
func (h *Handler) GetContentItemDownload(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}

	if item.GeneratedMediaURL == nil || *item.GeneratedMediaURL == "" {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	signedURL, err := h.storage.PresignGet(r.Context(), *item.GeneratedMediaURL)
	if err != nil {
		h.log.Error().Err(err).Str("content_item_id", item.ID.String()).Msg("failed to presign reel")
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

func (h *Handler) loadItem(w http.ResponseWriter, r *http.Request) (*models.ContentItem, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid content item ID")
		return nil, false
	}

	item, err := h.content.GetContentItem(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Content item not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load content item")
		return nil, false
	}
	return item, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
