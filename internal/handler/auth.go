package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/server/middleware"
	"github.com/audiogate/audiogate/internal/store"
)

// AuthHandler serves registration, login, logout, and the current-user
// profile.
type AuthHandler struct {
	store    *store.Store
	sessions *auth.SessionManager
	keys     *auth.KeyManager
	audit    *audit.Pipeline

	cookieName   string
	cookieSecure bool
}

// NewAuthHandler creates an AuthHandler. cookieName and cookieSecure control
// the session cookie the handler issues.
func NewAuthHandler(s *store.Store, sessions *auth.SessionManager, keys *auth.KeyManager, pipeline *audit.Pipeline, cookieName string, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		store:        s,
		sessions:     sessions,
		keys:         keys,
		audit:        pipeline,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	APIKey      string `json:"api_key"`
	KeyActive   bool   `json:"api_key_active"`
	UploadLimit int    `json:"upload_limit"`
	Message     string `json:"message"`
}

// Register creates a new account and issues its API key. The key starts
// inactive and is returned to the caller so they can present it once an
// administrator activates it.
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Username, email, and password are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid email address")
		return
	}

	exists, err := h.store.UserExists(r.Context(), req.Username, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Registration failed")
		return
	}
	if exists {
		writeError(w, http.StatusConflict, model.CodeConflict, "Username or email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Registration failed")
		return
	}

	user := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		UploadLimit:  model.DefaultUploadLimit,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Registration failed")
		return
	}

	key, err := h.keys.Issue(r.Context(), user.ID, user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Registration failed")
		return
	}

	h.audit.Log(r.Context(), audit.CategoryAuth, map[string]any{
		"event":    "user_registered",
		"user_id":  user.ID,
		"username": user.Username,
	})

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		APIKey:      key.RawKey,
		KeyActive:   key.Active,
		UploadLimit: user.UploadLimit,
		Message:     "Account created. Your API key requires admin activation before uploads.",
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"` // username or email
	Password   string `json:"password"`
}

type loginResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	Message  string `json:"message"`
}

// Login verifies credentials and opens a session, delivered as an HttpOnly
// cookie. Unknown identifier and wrong password are indistinguishable to the
// caller.
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, model.CodeBadRequest, "Identifier and password are required")
		return
	}

	user, err := h.store.GetUserByIdentifier(r.Context(), req.Identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logLoginFailed(r, req.Identifier, "unknown_identifier")
			writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Login failed")
		return
	}

	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		h.logLoginFailed(r, req.Identifier, "bad_password")
		writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Invalid credentials")
		return
	}

	sessionID, err := h.sessions.Create(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(auth.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		IsAdmin:  user.IsAdmin,
		Message:  "Logged in",
	})
}

func (h *AuthHandler) logLoginFailed(r *http.Request, identifier, reason string) {
	h.audit.Log(r.Context(), audit.CategoryAuth, map[string]any{
		"event":      "login_failed",
		"identifier": identifier,
		"reason":     reason,
		"ip":         r.RemoteAddr,
	})
}

// Logout destroys the session and clears the cookie. Succeeds even when the
// session already expired; logout is idempotent.
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var duration int64
	if c, err := r.Cookie(h.cookieName); err == nil && c.Value != "" {
		duration = h.sessions.Duration(r.Context(), c.Value)
		if err := h.sessions.Destroy(r.Context(), c.Value); err != nil {
			writeError(w, http.StatusInternalServerError, model.CodeInternal, "Logout failed")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"message":              "Logged out",
		"session_duration_sec": duration,
	})
}

type profileResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	IsAdmin     bool   `json:"is_admin"`
	UploadLimit int    `json:"upload_limit"`
	APIKey      string `json:"api_key,omitempty"`
	KeyActive   bool   `json:"api_key_active"`
	AuthVia     string `json:"auth_via"`
}

// Me returns the authenticated user's profile, including their raw API key so
// the owner can retrieve it after registration.
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Login required")
		return
	}

	user, err := h.store.GetUser(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, model.CodeUserNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, model.CodeInternal, "Profile lookup failed")
		return
	}

	resp := profileResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		IsAdmin:     user.IsAdmin,
		UploadLimit: user.UploadLimit,
		AuthVia:     principal.Via,
	}
	if key, err := h.store.GetNewestAPIKey(r.Context(), user.ID); err == nil {
		resp.APIKey = key.RawKey
		resp.KeyActive = key.Active
	}

	writeJSON(w, http.StatusOK, resp)
}

// Protected is a trivial authenticated endpoint used to probe credentials
// without side effects.
// GET /protected
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Login required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Authenticated",
		"user_id":  principal.UserID,
		"auth_via": principal.Via,
	})
}
