package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskvault/taskauth"
	"github.com/taskvault/taskauth/record"
)

// Handler exposes the authentication engine over HTTP. Access tokens travel
// in JSON response bodies; refresh tokens travel only in the HttpOnly
// cookie and never appear in a body.
type Handler struct {
	engine  *taskauth.Engine
	cookies cookies
	log     *slog.Logger
}

// NewHandler wires engine behind the /auth endpoints using the given cookie
// settings.
func NewHandler(engine *taskauth.Engine, cookieCfg CookieConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine:  engine,
		cookies: newCookies(cookieCfg),
		log:     log,
	}
}

// Routes returns the /auth router: POST login, refresh, and logout, plus a
// Guard-protected GET whoami reporting the authenticated subject.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/logout", h.handleLogout)
	r.Group(func(r chi.Router) {
		r.Use(Guard(h.engine))
		r.Get("/whoami", h.handleWhoami)
	})
	return r
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.engine.Login(r.Context(), req.Identifier, req.Secret)
	if err != nil {
		h.writeAuthFailure(w, r, err, "invalid credentials")
		return
	}

	h.cookies.write(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		ExpiresAt:   pair.AccessExpiresAt,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := h.cookies.read(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	pair, err := h.engine.Refresh(r.Context(), refreshToken)
	if err != nil {
		// Reuse detection is not disclosed to the caller; a stolen-token
		// holder learns nothing beyond rejection.
		h.writeAuthFailure(w, r, err, "invalid refresh token")
		return
	}

	h.cookies.write(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		ExpiresAt:   pair.AccessExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	refreshToken, _ := h.cookies.read(r)

	if err := h.engine.Logout(r.Context(), refreshToken); err != nil {
		h.writeAuthFailure(w, r, err, "logout failed")
		return
	}

	h.cookies.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWhoami(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subject": subject})
}

func (h *Handler) writeAuthFailure(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, record.ErrStoreUnavailable) {
		h.log.Error("auth backend unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	writeError(w, http.StatusUnauthorized, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
