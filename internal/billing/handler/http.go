// Package handler exposes subscriptions and payments over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/billing/domain"
	"medilink/internal/billing/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
)

// Handler serves /api/billing.
type Handler struct {
	svc *service.Service
}

// NewHandler returns a billing HTTP handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the billing routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/billing/plans", h.plans)
	r.Get("/api/billing/subscription", h.subscription)
	r.Put("/api/billing/subscription", h.changePlan)
	r.Post("/api/billing/subscription/cancel", h.cancel)
	r.Get("/api/billing/payments", h.payments)
	r.Post("/api/admin/payments/{paymentID}/status", h.markPayment)
}

type planView struct {
	Name           string `json:"name"`
	PriceCents     int64  `json:"price_cents"`
	Currency       string `json:"currency"`
	MonthlyCredits int64  `json:"monthly_credits"`
}

type subscriptionView struct {
	OrgID              string    `json:"org_id"`
	Plan               string    `json:"plan"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CreatedAt          time.Time `json:"created_at"`
}

func toSubscriptionView(s *domain.Subscription) subscriptionView {
	return subscriptionView{
		OrgID: s.OrgID, Plan: string(s.Plan), Status: string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart.UTC(), CurrentPeriodEnd: s.CurrentPeriodEnd.UTC(),
		CreatedAt: s.CreatedAt.UTC(),
	}
}

type paymentView struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Kind        string    `json:"kind"`
	Reference   string    `json:"reference"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toPaymentView(p *domain.Payment) paymentView {
	return paymentView{
		ID: p.ID, OrgID: p.OrgID, Kind: string(p.Kind), Reference: p.Reference, AmountCents: p.AmountCents,
		Currency: p.Currency, Status: string(p.Status), CreatedAt: p.CreatedAt.UTC(), UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func (h *Handler) plans(w http.ResponseWriter, r *http.Request) {
	out := []planView{}
	for _, p := range domain.Plans() {
		out = append(out, planView{Name: string(p.Name), PriceCents: p.PriceCents, Currency: domain.Currency, MonthlyCredits: p.MonthlyCredits})
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Plans []planView `json:"plans"`
	}{out})
}

func (h *Handler) subscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.GetSubscription(r.Context())
	h.writeSubscription(w, r, sub, err)
}

func (h *Handler) changePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	sub, err := h.svc.ChangePlan(r.Context(), domain.PlanName(req.Plan))
	h.writeSubscription(w, r, sub, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Cancel(r.Context())
	h.writeSubscription(w, r, sub, err)
}

func (h *Handler) writeSubscription(w http.ResponseWriter, r *http.Request, sub *domain.Subscription, err error) {
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Subscription subscriptionView `json:"subscription"`
	}{toSubscriptionView(sub)})
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListPayments(r.Context(), httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]paymentView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPaymentView(p))
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Payments []paymentView `json:"payments"`
	}{out})
}

func (h *Handler) markPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	p, err := h.svc.MarkPayment(r.Context(), chi.URLParam(r, "paymentID"), domain.PaymentStatus(req.Status))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Payment paymentView `json:"payment"`
	}{toPaymentView(p)})
}
