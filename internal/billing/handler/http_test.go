package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medilink/internal/billing/domain"
	"medilink/internal/billing/service"
	"medilink/internal/db"
	membershipdomain "medilink/internal/membership/domain"
	"medilink/internal/platform/authctx"
)

// subRepo keeps one subscription and no payments; enough for the HTTP surface.
type subRepo struct{ sub *domain.Subscription }

func (r *subRepo) GetSubscription(ctx context.Context, orgID string) (*domain.Subscription, error) {
	if r.sub == nil || r.sub.OrgID != orgID {
		return nil, nil
	}
	cp := *r.sub
	return &cp, nil
}
func (r *subRepo) SaveSubscription(ctx context.Context, s *domain.Subscription) error {
	cp := *s
	r.sub = &cp
	return nil
}
func (r *subRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return nil, nil
}
func (r *subRepo) CreatePayment(ctx context.Context, p *domain.Payment) error { return nil }
func (r *subRepo) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return nil, nil
}
func (r *subRepo) GetPaymentByReference(ctx context.Context, orgID string, kind domain.PaymentKind, reference string) (*domain.Payment, error) {
	return nil, nil
}
func (r *subRepo) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) error {
	return nil
}
func (r *subRepo) ListPayments(ctx context.Context, orgID string, limit, offset int) ([]*domain.Payment, error) {
	return nil, nil
}

type owner struct{}

func (owner) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	return &membershipdomain.Membership{UserID: userID, OrgID: orgID, Role: membershipdomain.RoleOwner}, nil
}

func newRouter(t *testing.T, id authctx.Identity) http.Handler {
	t.Helper()
	svc := service.NewService(&subRepo{}, owner{}, nil, db.NoTx{}, nil, nil, nil)
	require.NoError(t, svc.StartFree(context.Background(), "org-1"))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(authctx.WithIdentity(req.Context(), id)))
		})
	})
	NewHandler(svc).Routes(r)
	return r
}

var ownerID = authctx.Identity{UserID: "u1", OrgID: "org-1", OrgType: "hospital", OrgStatus: "active"}

func TestPlans(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(t, ownerID).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/billing/plans", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"enterprise","price_cents":199000`)
}

func TestSubscriptionLifecycle(t *testing.T) {
	h := newRouter(t, ownerID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan":"free"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/billing/subscription", strings.NewReader(`{"plan":"standard"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"plan":"standard"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/billing/subscription", strings.NewReader(`{"plan":"standard"}`)))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/billing/subscription/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)
}

func TestMarkPayment_RequiresPlatformAdmin(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(t, ownerID).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/payments/p1/status", strings.NewReader(`{"status":"failed"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	admin := authctx.Identity{UserID: "root", PlatformAdmin: true}
	newRouter(t, admin).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/payments/p1/status", strings.NewReader(`{"status":"failed"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
