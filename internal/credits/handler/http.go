// Package handler exposes AI credit balances, the guard and consumption over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/credits/domain"
	"medilink/internal/credits/service"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
)

// Handler serves /api/credits and the admin grant route.
type Handler struct {
	svc *service.Service
}

// NewHandler returns a credits HTTP handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the credits routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/credits", h.balance)
	r.Get("/api/credits/transactions", h.transactions)
	r.Post("/api/credits/consume", h.consume)
	r.Post("/api/credits/guard", h.guard)
	r.Post("/api/admin/credits/{orgID}/grant", h.grant)
	r.Post("/api/admin/credits/{orgID}/refund", h.refund)
}

type accountView struct {
	OrgID            string    `json:"org_id"`
	Balance          int64     `json:"balance"`
	LifetimeGranted  int64     `json:"lifetime_granted"`
	LifetimeConsumed int64     `json:"lifetime_consumed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toAccountView(a *domain.Account) accountView {
	return accountView{
		OrgID: a.OrgID, Balance: a.Balance, LifetimeGranted: a.LifetimeGranted,
		LifetimeConsumed: a.LifetimeConsumed, UpdatedAt: a.UpdatedAt.UTC(),
	}
}

type transactionView struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	Feature      string    `json:"feature,omitempty"`
	Reference    string    `json:"reference"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

func toTransactionView(t *domain.Transaction) transactionView {
	return transactionView{
		ID: t.ID, OrgID: t.OrgID, Delta: t.Delta, Reason: string(t.Reason), Feature: string(t.Feature),
		Reference: t.Reference, BalanceAfter: t.BalanceAfter, CreatedAt: t.CreatedAt.UTC(),
	}
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Balance(r.Context())
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	costs := make(map[string]int64, len(b.Features))
	for f, c := range b.Features {
		costs[string(f)] = c
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Account  accountView      `json:"account"`
		Features map[string]int64 `json:"feature_costs"`
	}{toAccountView(b.Account), costs})
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.ListTransactions(r.Context(), httpx.QueryInt(r, "page_size", 0), r.URL.Query().Get("page_token"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	out := make([]transactionView, 0, len(page.Transactions))
	for _, t := range page.Transactions {
		out = append(out, toTransactionView(t))
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Transactions  []transactionView `json:"transactions"`
		NextPageToken string            `json:"next_page_token"`
	}{out, page.NextPageToken})
}

type consumeRequest struct {
	Feature   string `json:"feature"`
	Reference string `json:"reference"`
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	t, replayed, err := h.svc.Consume(r.Context(), domain.Feature(req.Feature), req.Reference)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, struct {
		Transaction transactionView `json:"transaction"`
		Replayed    bool            `json:"replayed"`
	}{toTransactionView(t), replayed})
}

type guardRequest struct {
	Feature  string `json:"feature"`
	Required int64  `json:"required"`
}

// guard prices by feature when one is given, otherwise checks the raw amount.
func (h *Handler) guard(w http.ResponseWriter, r *http.Request) {
	var req guardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	var (
		a   *domain.Account
		err error
	)
	if req.Feature != "" {
		a, err = h.svc.GuardFeature(r.Context(), domain.Feature(req.Feature))
	} else {
		a, err = h.svc.Guard(r.Context(), req.Required)
	}
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Allowed bool  `json:"allowed"`
		Balance int64 `json:"balance"`
	}{true, a.Balance})
}

type grantRequest struct {
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	t, err := h.svc.AdminGrant(r.Context(), chi.URLParam(r, "orgID"), req.Amount, domain.Reason(req.Reason), req.Reference)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, struct {
		Transaction transactionView `json:"transaction"`
	}{toTransactionView(t)})
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}
	t, err := h.svc.AdminRefund(r.Context(), chi.URLParam(r, "orgID"), req.Reference)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Transaction transactionView `json:"transaction"`
	}{toTransactionView(t)})
}
