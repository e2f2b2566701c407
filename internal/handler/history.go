package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/server/middleware"
	"github.com/audiogate/audiogate/internal/store"
)

// HistoryHandler serves a user's stored transcription results.
type HistoryHandler struct {
	store *store.Store
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(s *store.Store) *HistoryHandler {
	return &HistoryHandler{store: s}
}

// historyItem is the listing shape: metadata only, no result payload.
type historyItem struct {
	ID            int64  `json:"id"`
	Filename      string `json:"filename"`
	Mode          string `json:"mode"`
	FileSize      int64  `json:"file_size"`
	ProcessingSec int    `json:"processing_duration_sec"`
	AudioSec      int    `json:"audio_duration_sec"`
	CreatedAt     string `json:"created_at"`
}

// List returns the caller's newest transcriptions, metadata only. The limit
// query parameter defaults to 50, capped at 200.
// GET /history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Login required")
		return
	}

	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	records, err := h.store.ListTranscriptions(r.Context(), principal.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "History lookup failed")
		return
	}

	items := make([]historyItem, len(records))
	for i, rec := range records {
		items[i] = historyItem{
			ID:            rec.ID,
			Filename:      rec.Filename,
			Mode:          rec.Mode,
			FileSize:      rec.FileSize,
			ProcessingSec: rec.ProcessingSec,
			AudioSec:      rec.AudioSec,
			CreatedAt:     rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// Get returns one transcription with its full engine result. Records are
// owner-scoped: someone else's record ID yields 404, not 403.
// GET /transcription/{id}
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Login required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid transcription id")
		return
	}

	rec, err := h.store.GetTranscription(r.Context(), id, principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, model.CodeNotFound, "Transcription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Transcription lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 rec.ID,
		"filename":           rec.Filename,
		"mode":               rec.Mode,
		"file_size":          rec.FileSize,
		"processing_sec":     rec.ProcessingSec,
		"audio_duration_sec": rec.AudioSec,
		"created_at":         rec.CreatedAt,
		"result":             json.RawMessage(rec.Result),
	})
}
