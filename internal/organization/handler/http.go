package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/organization/domain"
	"medilink/internal/organization/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/cookies"
	"medilink/internal/platform/httpx"
)

// Handler serves /api/organizations.
type Handler struct {
	svc *service.Service
	jar cookies.Jar
}

// NewHandler returns an organization HTTP handler.
func NewHandler(svc *service.Service, jar cookies.Jar) *Handler {
	return &Handler{svc: svc, jar: jar}
}

// Routes registers the organization routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/organizations", h.create)
	r.Get("/api/organizations", h.listMine)
	r.Get("/api/organizations/{orgID}", h.get)
	r.Get("/api/admin/organizations", h.listAll)
	r.Post("/api/organizations/{orgID}/suspend", h.suspend)
	r.Post("/api/organizations/{orgID}/activate", h.activate)
}

type orgView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Role         string    `json:"role,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toView(o *domain.Org) orgView {
	return orgView{
		ID: o.ID, Name: o.Name, Type: string(o.Type), Status: string(o.Status),
		ContactEmail: o.ContactEmail, CreatedAt: o.CreatedAt,
	}
}

type createRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	ContactEmail string `json:"contact_email"`
}

// create makes the caller the owner of a new org and points the routing cookie at it.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	org, err := h.svc.Create(r.Context(), req.Name, domain.OrgType(req.Type), req.ContactEmail)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	h.jar.SetOrg(w, org.ID)
	v := toView(org)
	v.Role = "owner"
	httpx.WriteJSON(w, http.StatusCreated, v)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.svc.ListMine(r.Context())
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]orgView, 0, len(orgs))
	for _, o := range orgs {
		v := toView(o.Org)
		v.Role = string(o.Role)
		out = append(out, v)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"organizations": out})
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.svc.ListAll(r.Context(), domain.OrgStatus(r.URL.Query().Get("status")),
		httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]orgView, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, toView(o))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"organizations": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	org, err := h.svc.Get(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toView(org))
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, h.svc.Suspend)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, r, h.svc.Activate)
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orgID string) (*domain.Org, error)) {
	org, err := fn(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toView(org))
}
