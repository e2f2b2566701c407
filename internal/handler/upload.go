package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/engine"
	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/quota"
	"github.com/audiogate/audiogate/internal/server/middleware"
	"github.com/audiogate/audiogate/internal/store"
)

// UploadHandler accepts audio files, runs the upload precondition chain, and
// forwards admitted files to the engines.
type UploadHandler struct {
	store  *store.Store
	quota  *quota.Enforcer
	engine *engine.Client
	audit  *audit.Pipeline

	maxBodyBytes int64
}

// NewUploadHandler creates an UploadHandler. maxBodyBytes bounds the request
// body; audio uploads are large, so this comes from configuration.
func NewUploadHandler(s *store.Store, q *quota.Enforcer, e *engine.Client, pipeline *audit.Pipeline, maxBodyBytes int64) *UploadHandler {
	return &UploadHandler{
		store:        s,
		quota:        q,
		engine:       e,
		audit:        pipeline,
		maxBodyBytes: maxBodyBytes,
	}
}

// Upload processes one audio file. Preconditions run in a fixed order and
// each failure carries its own reason code, so a caller can always tell which
// gate stopped them: authentication, user existence, key presence, key
// validity, key activation, key ownership, then quota. Quota is reserved only
// after the engine succeeds; a failed engine call costs the caller nothing.
// POST /upload
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Authentication required")
		return
	}

	user, err := h.store.GetUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, model.CodeUserNotFound, "User account no longer exists")
			return
		}
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Upload failed")
		return
	}

	h.audit.Log(r.Context(), audit.CategoryUsage, map[string]any{
		"event":    "upload_request_received",
		"user_id":  user.ID,
		"username": user.Username,
	})

	// Uploads always require the API key header, even for session callers:
	// the key is the upload entitlement, the session only identifies.
	rawKey := r.Header.Get(middleware.APIKeyHeader)
	if rawKey == "" {
		h.blocked(r, user, model.CodeKeyMissing)
		writeError(w, http.StatusForbidden, model.CodeKeyMissing, "API key required for uploads")
		return
	}

	key, err := h.store.GetAPIKeyByHash(r.Context(), auth.HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.blocked(r, user, model.CodeKeyNotFound)
			writeError(w, http.StatusForbidden, model.CodeKeyNotFound, "Unknown API key")
			return
		}
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Upload failed")
		return
	}
	if !key.Active {
		h.blocked(r, user, model.CodeKeyInactive)
		writeError(w, http.StatusForbidden, model.CodeKeyInactive, "API key is not activated. Contact an administrator.")
		return
	}
	if key.UserID != user.ID {
		h.blocked(r, user, model.CodeKeyMismatch)
		writeError(w, http.StatusForbidden, model.CodeKeyMismatch, "API key does not belong to the authenticated user")
		return
	}

	// The entitlement check is a key use, even when the identity came from a
	// session. Best effort, like the resolver path.
	_ = h.store.UpdateAPIKeyLastUsed(r.Context(), key.ID)

	allowed, current, err := h.quota.Check(r.Context(), user.ID, user.UploadLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Quota check failed")
		return
	}
	h.audit.Log(r.Context(), audit.CategoryUsage, map[string]any{
		"event":         "hourly_upload_quota_check",
		"user_id":       user.ID,
		"current_usage": current,
		"limit":         user.UploadLimit,
		"allowed":       allowed,
	})
	if !allowed {
		h.blocked(r, user, model.CodeQuotaExceeded)
		writeError(w, http.StatusForbidden, model.CodeQuotaExceeded,
			"Hourly upload limit reached",
			map[string]interface{}{
				"current_usage": current,
				"limit":         user.UploadLimit,
				"window_sec":    int(quota.Window.Seconds()),
			})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	mode := r.FormValue("mode")
	if mode == "" {
		mode = r.URL.Query().Get("mode")
	}
	if mode == "" {
		mode = engine.ModeTranscribe
	}
	if !engine.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest,
			"Unknown mode; use transcribe or diarize")
		return
	}

	start := time.Now()
	result, err := h.engine.Process(r.Context(), mode, header.Filename, file)
	if err != nil {
		var ue *engine.UpstreamError
		ctx := map[string]interface{}{"mode": mode}
		if errors.As(err, &ue) {
			ctx["engine_status"] = ue.Status
		}
		h.audit.Log(r.Context(), audit.CategoryUsage, map[string]any{
			"event":    "upload_engine_failed",
			"user_id":  user.ID,
			"filename": header.Filename,
			"mode":     mode,
			"error":    err.Error(),
		})
		writeError(w, http.StatusBadGateway, model.CodeUpstreamFailure,
			"Audio engine failed to process the file", ctx)
		return
	}
	processingSec := int(time.Since(start).Seconds())
	audioSec := engine.AudioDuration(result)

	record := &model.Transcription{
		UserID:        user.ID,
		Username:      user.Username,
		Filename:      header.Filename,
		Mode:          mode,
		Result:        string(result),
		FileSize:      header.Size,
		ProcessingSec: processingSec,
		AudioSec:      audioSec,
	}
	if err := h.store.CreateTranscription(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Failed to store result")
		return
	}

	// Reservation and analytics happen after success only. Either failing
	// must not fail the upload the user already paid for.
	newCount, err := h.quota.Reserve(r.Context(), user.ID)
	if err != nil {
		newCount = current + 1
	}
	_ = h.store.BumpUsage(r.Context(), user.ID, audioSec)

	h.audit.Log(r.Context(), audit.CategoryUsage, map[string]any{
		"event":              "upload_completed",
		"user_id":            user.ID,
		"username":           user.Username,
		"filename":           header.Filename,
		"mode":               mode,
		"file_size":          header.Size,
		"processing_sec":     processingSec,
		"audio_duration_sec": audioSec,
		"hourly_usage":       newCount,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                 record.ID,
		"filename":           record.Filename,
		"mode":               record.Mode,
		"result":             json.RawMessage(result),
		"processing_sec":     processingSec,
		"audio_duration_sec": audioSec,
		"usage": map[string]any{
			"current": newCount,
			"limit":   user.UploadLimit,
		},
	})
}

func (h *UploadHandler) blocked(r *http.Request, user *model.User, reason string) {
	h.audit.Log(r.Context(), audit.CategoryUsage, map[string]any{
		"event":    "upload_blocked",
		"user_id":  user.ID,
		"username": user.Username,
		"reason":   reason,
	})
}
