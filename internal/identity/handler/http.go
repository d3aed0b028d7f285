// Package handler exposes sign-up, sign-in and session endpoints over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/identity/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/cookies"
	"medilink/internal/platform/httpx"
)

// Handler serves /api/auth.
type Handler struct {
	auth *service.AuthService
	jar  cookies.Jar
}

// NewHandler returns an auth HTTP handler writing cookies through jar.
func NewHandler(auth *service.AuthService, jar cookies.Jar) *Handler {
	return &Handler{auth: auth, jar: jar}
}

// Routes registers the auth routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/auth/register", h.register)
	r.Post("/api/auth/login", h.login)
	r.Post("/api/auth/refresh", h.refresh)
	r.Post("/api/auth/logout", h.logout)
	r.Post("/api/auth/switch-org", h.switchOrg)
	r.Get("/api/auth/me", h.me)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OrgID    string `json:"org_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type switchOrgRequest struct {
	OrgID string `json:"org_id"`
}

type authResponse struct {
	UserID       string    `json:"user_id"`
	OrgID        string    `json:"org_id,omitempty"`
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
}

// issue writes the session cookies and the token body.
func (h *Handler) issue(w http.ResponseWriter, status int, res *service.AuthResult) {
	h.jar.SetSession(w, res.AccessToken, res.AccessExpiresAt, res.RefreshToken, res.RefreshExpiresAt)
	h.jar.SetOrg(w, res.OrgID)
	httpx.WriteJSON(w, status, authResponse{
		UserID:       res.UserID,
		OrgID:        res.OrgID,
		AccessToken:  res.AccessToken,
		ExpiresAt:    res.AccessExpiresAt,
		RefreshToken: res.RefreshToken,
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	res, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	h.issue(w, http.StatusCreated, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, req.OrgID)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	h.issue(w, http.StatusOK, res)
}

// refreshToken takes the token from the body, falling back to the refresh cookie.
func refreshToken(r *http.Request) (string, error) {
	var req refreshRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			return "", err
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken = cookies.Value(r, cookies.Refresh)
	}
	return req.RefreshToken, nil
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	token, err := refreshToken(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	res, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnauthenticated {
			h.jar.Clear(w)
		}
		apperr.Write(w, r, err)
		return
	}
	h.issue(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, err := refreshToken(r)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		apperr.Write(w, r, err)
		return
	}
	h.jar.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) switchOrg(w http.ResponseWriter, r *http.Request) {
	var req switchOrgRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	res, err := h.auth.SwitchOrg(r.Context(), req.OrgID)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	h.issue(w, http.StatusOK, res)
}

type meResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	PlatformAdmin bool   `json:"platform_admin"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.Me(r.Context())
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{ID: u.ID, Email: u.Email, Name: u.Name, PlatformAdmin: u.IsPlatformAdmin()})
}
