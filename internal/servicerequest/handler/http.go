// Package handler exposes service requests and quotes over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
	"medilink/internal/servicerequest/domain"
	"medilink/internal/servicerequest/service"
)

// Handler serves /api/service-requests and /api/quotes.
type Handler struct {
	svc *service.Service
}

// NewHandler returns a service request HTTP handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the service request routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/service-requests", h.create)
	r.Get("/api/service-requests", h.listForHospital)
	r.Get("/api/service-requests/open", h.listOpen)
	r.Get("/api/service-requests/assigned", h.listAssigned)
	r.Get("/api/service-requests/{requestID}", h.get)
	r.Post("/api/service-requests/{requestID}/cancel", h.step(h.svc.Cancel))
	r.Post("/api/service-requests/{requestID}/start", h.step(h.svc.Start))
	r.Post("/api/service-requests/{requestID}/complete", h.step(h.svc.Complete))
	r.Get("/api/service-requests/{requestID}/quotes", h.listQuotes)
	r.Post("/api/service-requests/{requestID}/quotes", h.submitQuote)
	r.Post("/api/service-requests/{requestID}/quotes/{quoteID}/accept", h.acceptQuote)
	r.Post("/api/quotes/{quoteID}/withdraw", h.withdrawQuote)
}

type requestView struct {
	ID              string     `json:"id"`
	HospitalOrgID   string     `json:"hospital_org_id"`
	EquipmentID     string     `json:"equipment_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	ProviderOrgID   string     `json:"provider_org_id,omitempty"`
	AcceptedQuoteID string     `json:"accepted_quote_id,omitempty"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toRequestView(sr *domain.ServiceRequest) requestView {
	return requestView{
		ID: sr.ID, HospitalOrgID: sr.HospitalOrgID, EquipmentID: sr.EquipmentID, Title: sr.Title,
		Description: sr.Description, Priority: string(sr.Priority), Status: string(sr.Status),
		ProviderOrgID: sr.ProviderOrgID, AcceptedQuoteID: sr.AcceptedQuoteID, CreatedBy: sr.CreatedBy,
		CreatedAt: sr.CreatedAt.UTC(), UpdatedAt: sr.UpdatedAt.UTC(), CompletedAt: sr.CompletedAt,
	}
}

type quoteView struct {
	ID            string     `json:"id"`
	RequestID     string     `json:"request_id"`
	ProviderOrgID string     `json:"provider_org_id"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	Notes         string     `json:"notes,omitempty"`
	Status        string     `json:"status"`
	ValidUntil    *time.Time `json:"valid_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toQuoteView(q *domain.Quote) quoteView {
	return quoteView{
		ID: q.ID, RequestID: q.RequestID, ProviderOrgID: q.ProviderOrgID, AmountCents: q.AmountCents,
		Currency: q.Currency, Notes: q.Notes, Status: string(q.Status), ValidUntil: q.ValidUntil, CreatedAt: q.CreatedAt.UTC(),
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EquipmentID string `json:"equipment_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	sr, err := h.svc.Create(r.Context(), service.CreateInput{
		EquipmentID: req.EquipmentID, Title: req.Title, Description: req.Description, Priority: domain.Priority(req.Priority),
	})
	writeRequest(w, r, http.StatusCreated, sr, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	sr, err := h.svc.Get(r.Context(), chi.URLParam(r, "requestID"))
	writeRequest(w, r, http.StatusOK, sr, err)
}

func (h *Handler) step(fn func(ctx context.Context, id string) (*domain.ServiceRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr, err := fn(r.Context(), chi.URLParam(r, "requestID"))
		writeRequest(w, r, http.StatusOK, sr, err)
	}
}

func (h *Handler) listForHospital(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListForHospital(r.Context(), domain.Status(r.URL.Query().Get("status")),
		httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	writeRequests(w, r, list, err)
}

func (h *Handler) listOpen(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListOpenForProviders(r.Context(), httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	writeRequests(w, r, list, err)
}

func (h *Handler) listAssigned(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListAssigned(r.Context(), httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	writeRequests(w, r, list, err)
}

func (h *Handler) listQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.svc.ListQuotes(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]quoteView, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, toQuoteView(q))
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Quotes []quoteView `json:"quotes"`
	}{out})
}

func (h *Handler) submitQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AmountCents int64      `json:"amount_cents"`
		Currency    string     `json:"currency"`
		Notes       string     `json:"notes"`
		ValidUntil  *time.Time `json:"valid_until"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	q, err := h.svc.SubmitQuote(r.Context(), chi.URLParam(r, "requestID"), service.QuoteInput{
		AmountCents: req.AmountCents, Currency: req.Currency, Notes: req.Notes, ValidUntil: req.ValidUntil,
	})
	writeQuote(w, r, http.StatusCreated, q, err)
}

func (h *Handler) acceptQuote(w http.ResponseWriter, r *http.Request) {
	sr, err := h.svc.AcceptQuote(r.Context(), chi.URLParam(r, "requestID"), chi.URLParam(r, "quoteID"))
	writeRequest(w, r, http.StatusOK, sr, err)
}

func (h *Handler) withdrawQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.WithdrawQuote(r.Context(), chi.URLParam(r, "quoteID"))
	writeQuote(w, r, http.StatusOK, q, err)
}

func writeRequest(w http.ResponseWriter, r *http.Request, status int, sr *domain.ServiceRequest, err error) {
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, struct {
		ServiceRequest requestView `json:"service_request"`
	}{toRequestView(sr)})
}

func writeRequests(w http.ResponseWriter, r *http.Request, list []*domain.ServiceRequest, err error) {
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]requestView, 0, len(list))
	for _, sr := range list {
		out = append(out, toRequestView(sr))
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		ServiceRequests []requestView `json:"service_requests"`
	}{out})
}

func writeQuote(w http.ResponseWriter, r *http.Request, status int, q *domain.Quote, err error) {
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, struct {
		Quote quoteView `json:"quote"`
	}{toQuoteView(q)})
}
