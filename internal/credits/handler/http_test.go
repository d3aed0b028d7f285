package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medilink/internal/credits/domain"
	"medilink/internal/credits/service"
	"medilink/internal/db"
	membershipdomain "medilink/internal/membership/domain"
	"medilink/internal/platform/authctx"
)

type memRepo struct {
	accounts map[string]*domain.Account
	ledger   []*domain.Transaction
}

func (m *memRepo) OpenAccount(ctx context.Context, orgID string, at time.Time) error {
	if _, ok := m.accounts[orgID]; !ok {
		m.accounts[orgID] = &domain.Account{OrgID: orgID, UpdatedAt: at}
	}
	return nil
}

func (m *memRepo) GetAccount(ctx context.Context, orgID string) (*domain.Account, error) {
	return m.accounts[orgID], nil
}

func (m *memRepo) Debit(ctx context.Context, orgID string, amount int64, at time.Time) (int64, bool, error) {
	a := m.accounts[orgID]
	if a == nil || a.Balance < amount {
		return 0, false, nil
	}
	a.Balance -= amount
	return a.Balance, true, nil
}

func (m *memRepo) Credit(ctx context.Context, orgID string, amount int64, reason domain.Reason, at time.Time) (int64, bool, error) {
	a := m.accounts[orgID]
	if a == nil {
		return 0, false, nil
	}
	a.Balance += amount
	return a.Balance, true, nil
}

func (m *memRepo) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	t.Seq = int64(len(m.ledger) + 1)
	m.ledger = append(m.ledger, t)
	return nil
}

func (m *memRepo) GetTransactionByReference(ctx context.Context, orgID string, reason domain.Reason, reference string) (*domain.Transaction, error) {
	for _, t := range m.ledger {
		if t.OrgID == orgID && t.Reason == reason && t.Reference == reference {
			return t, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListTransactions(ctx context.Context, orgID string, beforeSeq int64, limit int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if t := m.ledger[i]; t.OrgID == orgID && (beforeSeq == 0 || t.Seq < beforeSeq) {
			out = append(out, t)
		}
	}
	return out, nil
}

type members struct{}

func (members) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	if userID == "u1" && orgID == "org-1" {
		return &membershipdomain.Membership{UserID: userID, OrgID: orgID, Role: membershipdomain.RoleAdmin}, nil
	}
	return nil, nil
}

func newRouter(t *testing.T, balance int64, id *authctx.Identity) http.Handler {
	t.Helper()
	repo := &memRepo{accounts: map[string]*domain.Account{"org-1": {OrgID: "org-1", Balance: balance}}}
	svc := service.NewService(repo, members{}, db.NoTx{}, nil, nil)
	r := chi.NewRouter()
	if id != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(authctx.WithIdentity(req.Context(), *id)))
			})
		})
	}
	NewHandler(svc).Routes(r)
	return r
}

var member = &authctx.Identity{UserID: "u1", OrgID: "org-1", OrgType: "hospital", OrgStatus: "active"}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestConsume_CreatedThenReplayed(t *testing.T) {
	h := newRouter(t, 10, member)

	rec := do(h, http.MethodPost, "/api/credits/consume", `{"feature":"quote_summary","reference":"r1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		Transaction struct {
			Delta        int64 `json:"delta"`
			BalanceAfter int64 `json:"balance_after"`
		} `json:"transaction"`
		Replayed bool `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(-2), body.Transaction.Delta)
	assert.Equal(t, int64(8), body.Transaction.BalanceAfter)

	rec = do(h, http.MethodPost, "/api/credits/consume", `{"feature":"quote_summary","reference":"r1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Replayed)
}

func TestConsume_PaymentRequired(t *testing.T) {
	h := newRouter(t, 1, member)
	rec := do(h, http.MethodPost, "/api/credits/consume", `{"feature":"report_generation"}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_credits")
}

func TestGuard(t *testing.T) {
	h := newRouter(t, 5, member)

	rec := do(h, http.MethodPost, "/api/credits/guard", `{"feature":"equipment_diagnosis"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allowed":true,"balance":5}`, rec.Body.String())

	rec = do(h, http.MethodPost, "/api/credits/guard", `{"required":6}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = do(h, http.MethodPost, "/api/credits/guard", `{"feature":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalanceAndTransactions(t *testing.T) {
	h := newRouter(t, 30, member)
	do(h, http.MethodPost, "/api/credits/consume", `{"feature":"maintenance_forecast","reference":"f1"}`)

	rec := do(h, http.MethodGet, "/api/credits", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Account struct {
			Balance int64 `json:"balance"`
		} `json:"account"`
		Features map[string]int64 `json:"feature_costs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, int64(22), bal.Account.Balance)
	assert.Equal(t, int64(8), bal.Features["maintenance_forecast"])

	rec = do(h, http.MethodGet, "/api/credits/transactions?page_size=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Transactions []struct {
			Reference string `json:"reference"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "f1", page.Transactions[0].Reference)
}

func TestGrant_AdminOnly(t *testing.T) {
	rec := do(newRouter(t, 0, member), http.MethodPost, "/api/admin/credits/org-1/grant", `{"amount":50}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := &authctx.Identity{UserID: "root", PlatformAdmin: true}
	rec = do(newRouter(t, 0, admin), http.MethodPost, "/api/admin/credits/org-1/grant", `{"amount":50,"reason":"grant"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"balance_after":50`)
}

func TestUnauthenticated(t *testing.T) {
	rec := do(newRouter(t, 0, nil), http.MethodGet, "/api/credits", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
