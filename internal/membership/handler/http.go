package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/membership/domain"
	"medilink/internal/membership/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
)

// Handler serves /api/organizations/{orgID}/members.
type Handler struct {
	svc *service.Service
}

// NewHandler returns a membership HTTP handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the membership routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/organizations/{orgID}/members", h.list)
	r.Post("/api/organizations/{orgID}/members", h.add)
	r.Delete("/api/organizations/{orgID}/members/{userID}", h.remove)
	r.Put("/api/organizations/{orgID}/members/{userID}/role", h.updateRole)
}

type memberView struct {
	UserID    string    `json:"user_id"`
	OrgID     string    `json:"org_id"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toView(m *domain.Membership) memberView {
	return memberView{UserID: m.UserID, OrgID: m.OrgID, Role: string(m.Role), CreatedAt: m.CreatedAt}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.List(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		v := toView(m.Membership)
		v.Email, v.Name = m.Email, m.Name
		out = append(out, v)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"members": out})
}

type addRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = string(domain.RoleMember)
	}
	m, err := h.svc.Add(r.Context(), chi.URLParam(r, "orgID"), req.Email, domain.Role(req.Role))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toView(m))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "orgID"), chi.URLParam(r, "userID")); err != nil {
		apperr.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	m, err := h.svc.UpdateRole(r.Context(), chi.URLParam(r, "orgID"), chi.URLParam(r, "userID"), domain.Role(req.Role))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toView(m))
}
