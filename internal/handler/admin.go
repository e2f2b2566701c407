package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/quota"
	"github.com/audiogate/audiogate/internal/server/middleware"
	"github.com/audiogate/audiogate/internal/store"
)

// AdminHandler serves the administrative surface: user management, API key
// activation, quota limits, and observability listings.
type AdminHandler struct {
	store    *store.Store
	keys     *auth.KeyManager
	sessions *auth.SessionManager
	quota    *quota.Enforcer
	audit    *audit.Pipeline
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(s *store.Store, keys *auth.KeyManager, sessions *auth.SessionManager, q *quota.Enforcer, pipeline *audit.Pipeline) *AdminHandler {
	return &AdminHandler{
		store:    s,
		keys:     keys,
		sessions: sessions,
		quota:    q,
		audit:    pipeline,
	}
}

// adminUser is the admin listing shape for one account.
type adminUser struct {
	model.User
	KeyActive    bool  `json:"api_key_active"`
	HourlyUsage  int64 `json:"hourly_usage"`
	HasAPIKey    bool  `json:"has_api_key"`
	KeyActivated bool  `json:"api_key_ever_activated"`
}

// ListUsers returns every account with its key status and current hourly
// usage.
// GET /admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "User listing failed")
		return
	}

	out := make([]adminUser, len(users))
	for i, u := range users {
		au := adminUser{User: u}
		if key, err := h.store.GetNewestAPIKey(r.Context(), u.ID); err == nil {
			au.HasAPIKey = true
			au.KeyActive = key.Active
			au.KeyActivated = key.ActivatedAt != nil
		}
		if usage, err := h.quota.Current(r.Context(), u.ID); err == nil {
			au.HourlyUsage = usage
		}
		out[i] = au
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": out,
		"count": len(out),
	})
}

type limitRequest struct {
	UploadLimit int `json:"upload_limit"`
}

// UpdateUploadLimit sets a user's hourly upload allowance. The new limit
// applies from the next quota check; the current window's count is kept.
// PUT /admin/users/{id}/limit
func (h *AdminHandler) UpdateUploadLimit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	var req limitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UploadLimit < 0 {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Upload limit must be non-negative")
		return
	}

	if err := h.store.UpdateUploadLimit(r.Context(), userID, req.UploadLimit); err != nil {
		h.writeStoreError(w, err, "User not found", "Limit update failed")
		return
	}

	h.adminAction(r, "upload_limit_changed", userID, map[string]any{"new_limit": req.UploadLimit})
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"upload_limit": req.UploadLimit,
	})
}

type adminFlagRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// UpdateAdminFlag grants or revokes admin rights. Self-demotion is refused;
// the last admin cannot lock everyone out by accident.
// PUT /admin/users/{id}/admin
func (h *AdminHandler) UpdateAdminFlag(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	var req adminFlagRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if principal := middleware.GetPrincipal(r.Context()); principal != nil &&
		principal.UserID == userID && !req.IsAdmin {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Cannot revoke your own admin rights")
		return
	}

	if err := h.store.UpdateAdminFlag(r.Context(), userID, req.IsAdmin); err != nil {
		h.writeStoreError(w, err, "User not found", "Admin flag update failed")
		return
	}

	h.adminAction(r, "admin_flag_changed", userID, map[string]any{"is_admin": req.IsAdmin})
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"is_admin": req.IsAdmin,
	})
}

// ActivateKey enables a user's API key so uploads start working.
// POST /admin/users/{id}/key/activate
func (h *AdminHandler) ActivateKey(w http.ResponseWriter, r *http.Request) {
	h.setKeyActive(w, r, true)
}

// DeactivateKey disables a user's API key. Existing sessions keep working;
// only the upload entitlement is withdrawn.
// POST /admin/users/{id}/key/deactivate
func (h *AdminHandler) DeactivateKey(w http.ResponseWriter, r *http.Request) {
	h.setKeyActive(w, r, false)
}

func (h *AdminHandler) setKeyActive(w http.ResponseWriter, r *http.Request, active bool) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	var err error
	if active {
		err = h.keys.Activate(r.Context(), userID)
	} else {
		err = h.keys.Deactivate(r.Context(), userID)
	}
	if err != nil {
		h.writeStoreError(w, err, "User has no API key", "Key update failed")
		return
	}

	event := "api_key_deactivated"
	if active {
		event = "api_key_activated"
	}
	h.adminAction(r, event, userID, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"active":  active,
	})
}

// DeleteUser removes an account and everything it owns. Each dependent store
// is cleared independently and its outcome recorded, so a partial failure is
// visible per step instead of silently losing the tail of the cascade.
// DELETE /admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	if principal := middleware.GetPrincipal(r.Context()); principal != nil && principal.UserID == userID {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Cannot delete your own account")
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		h.writeStoreError(w, err, "User not found", "Delete failed")
		return
	}

	steps := map[string]any{}

	if n, err := h.store.DeleteAPIKeysForUser(r.Context(), userID); err == nil {
		steps["api_keys_deleted"] = n
	} else {
		steps["api_keys_error"] = err.Error()
	}
	if n, err := h.store.DeleteTranscriptionsForUser(r.Context(), userID); err == nil {
		steps["transcriptions_deleted"] = n
	} else {
		steps["transcriptions_error"] = err.Error()
	}
	if n, err := h.store.DeleteUsageForUser(r.Context(), userID); err == nil {
		steps["usage_rows_deleted"] = n
	} else {
		steps["usage_error"] = err.Error()
	}
	if err := h.quota.Reset(r.Context(), userID); err == nil {
		steps["quota_reset"] = true
	} else {
		steps["quota_error"] = err.Error()
	}
	if n, err := h.store.DeleteAuditRecordsForUser(r.Context(), userID); err == nil {
		steps["audit_events_deleted"] = n
	} else {
		steps["audit_error"] = err.Error()
	}

	if err := h.store.DeleteUser(r.Context(), userID); err != nil {
		h.writeStoreError(w, err, "User not found", "Delete failed")
		return
	}

	fields := map[string]any{"username": user.Username}
	for k, v := range steps {
		fields[k] = v
	}
	h.adminAction(r, "user_deleted", userID, fields)

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"deleted": true,
		"steps":   steps,
	})
}

// Usage returns lifetime upload counters for all users.
// GET /admin/usage
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ListUsage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Usage listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage": stats,
		"count": len(stats),
	})
}

// Sessions lists the live sessions. Observability only; session IDs shown
// here are already bearer tokens for their owners, so this endpoint stays
// admin-gated.
// GET /admin/sessions
func (h *AdminHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ActiveSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Session listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *AdminHandler) pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid user id")
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) writeStoreError(w http.ResponseWriter, err error, notFoundMsg, internalMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, model.CodeNotFound, notFoundMsg)
		return
	}
	writeError(w, http.StatusInternalServerError, model.CodeInternal, internalMsg)
}

func (h *AdminHandler) adminAction(r *http.Request, event string, targetUserID int64, extra map[string]any) {
	fields := map[string]any{
		"event":   event,
		"user_id": targetUserID,
	}
	if principal := middleware.GetPrincipal(r.Context()); principal != nil {
		fields["admin_id"] = principal.UserID
	}
	for k, v := range extra {
		fields[k] = v
	}
	h.audit.Log(r.Context(), audit.CategoryAuth, fields)
}
