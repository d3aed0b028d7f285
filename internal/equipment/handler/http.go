// Package handler exposes the equipment registry over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/equipment/domain"
	"medilink/internal/equipment/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
)

// Handler serves /api/equipment.
type Handler struct {
	svc *service.Service
}

// NewHandler returns an equipment HTTP handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the equipment routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/equipment", h.list)
	r.Post("/api/equipment", h.create)
	r.Get("/api/equipment/{equipmentID}", h.get)
	r.Put("/api/equipment/{equipmentID}", h.update)
	r.Post("/api/equipment/{equipmentID}/retire", h.retire)
}

type equipmentView struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"org_id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	Manufacturer   string     `json:"manufacturer"`
	Model          string     `json:"model"`
	SerialNumber   string     `json:"serial_number"`
	Location       string     `json:"location"`
	Status         string     `json:"status"`
	PurchasedAt    *time.Time `json:"purchased_at,omitempty"`
	LastServicedAt *time.Time `json:"last_serviced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toView(e *domain.Equipment) equipmentView {
	return equipmentView{
		ID: e.ID, OrgID: e.OrgID, Name: e.Name, Category: e.Category, Manufacturer: e.Manufacturer,
		Model: e.Model, SerialNumber: e.SerialNumber, Location: e.Location, Status: string(e.Status),
		PurchasedAt: e.PurchasedAt, LastServicedAt: e.LastServicedAt, CreatedAt: e.CreatedAt.UTC(), UpdatedAt: e.UpdatedAt.UTC(),
	}
}

type equipmentRequest struct {
	Name         *string    `json:"name"`
	Category     *string    `json:"category"`
	Manufacturer *string    `json:"manufacturer"`
	Model        *string    `json:"model"`
	SerialNumber *string    `json:"serial_number"`
	Location     *string    `json:"location"`
	PurchasedAt  *time.Time `json:"purchased_at"`
}

func (req equipmentRequest) input() service.Input {
	return service.Input{
		Name: req.Name, Category: req.Category, Manufacturer: req.Manufacturer, Model: req.Model,
		SerialNumber: req.SerialNumber, Location: req.Location, PurchasedAt: req.PurchasedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.List(r.Context(), domain.Status(q.Get("status")), q.Get("category"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]equipmentView, 0, len(list))
	for _, e := range list {
		out = append(out, toView(e))
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Equipment []equipmentView `json:"equipment"`
	}{out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req equipmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	e, err := h.svc.Create(r.Context(), req.input())
	h.write(w, r, http.StatusCreated, e, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Get(r.Context(), chi.URLParam(r, "equipmentID"))
	h.write(w, r, http.StatusOK, e, err)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req equipmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	e, err := h.svc.Update(r.Context(), chi.URLParam(r, "equipmentID"), req.input())
	h.write(w, r, http.StatusOK, e, err)
}

func (h *Handler) retire(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Retire(r.Context(), chi.URLParam(r, "equipmentID"))
	h.write(w, r, http.StatusOK, e, err)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, e *domain.Equipment, err error) {
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, struct {
		Equipment equipmentView `json:"equipment"`
	}{toView(e)})
}
