// Package handler exposes disputes over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/dispute/domain"
	"medilink/internal/dispute/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
)

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the dispute routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/service-requests/{requestID}/dispute", h.open)
	r.Get("/api/disputes", h.list)
	r.Get("/api/disputes/{disputeID}", h.get)
	r.Post("/api/disputes/{disputeID}/resolve", h.resolve)
	r.Post("/api/disputes/{disputeID}/withdraw", h.withdraw)
}

type disputeView struct {
	ID            string     `json:"id"`
	RequestID     string     `json:"request_id"`
	HospitalOrgID string     `json:"hospital_org_id"`
	ProviderOrgID string     `json:"provider_org_id"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	Resolution    string     `json:"resolution,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	EscalatedAt   *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func toView(d *domain.Dispute) disputeView {
	return disputeView{
		ID: d.ID, RequestID: d.RequestID, HospitalOrgID: d.HospitalOrgID, ProviderOrgID: d.ProviderOrgID,
		Reason: d.Reason, Status: string(d.Status), Resolution: d.Resolution, CreatedAt: d.CreatedAt.UTC(),
		EscalatedAt: d.EscalatedAt, ResolvedAt: d.ResolvedAt,
	}
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		apperr.Write(w, r, err)
		return
	}
	d, err := h.svc.Open(r.Context(), chi.URLParam(r, "requestID"), body.Reason)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toView(d))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), domain.Status(r.URL.Query().Get("status")),
		httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]disputeView, 0, len(list))
	for _, d := range list {
		out = append(out, toView(d))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"disputes": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "disputeID"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toView(d))
}

// resolve answers 200 when the decision was applied and 202 when the workflow will apply it.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Decision   string `json:"decision"`
		Resolution string `json:"resolution"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		apperr.Write(w, r, err)
		return
	}
	d, applied, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "disputeID"), body.Decision, body.Resolution)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	status := http.StatusOK
	if !applied {
		status = http.StatusAccepted
	}
	httpx.WriteJSON(w, status, toView(d))
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Withdraw(r.Context(), chi.URLParam(r, "disputeID"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toView(d))
}
