package service

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medilink/internal/audit"
	billingdomain "medilink/internal/billing/domain"
	"medilink/internal/db"
	"medilink/internal/dispute/domain"
	"medilink/internal/dispute/workflow"
	"medilink/internal/events"
	membershipdomain "medilink/internal/membership/domain"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	srdomain "medilink/internal/servicerequest/domain"
)

type memRepo struct {
	disputes map[string]*domain.Dispute
}

func (m *memRepo) Create(ctx context.Context, d *domain.Dispute) error {
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	d, ok := m.disputes[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) GetActiveByRequest(ctx context.Context, requestID string) (*domain.Dispute, error) {
	for _, d := range m.disputes {
		if d.RequestID == requestID && d.Status.Active() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepo) List(ctx context.Context, orgID string, status domain.Status, limit, offset int) ([]*domain.Dispute, error) {
	var out []*domain.Dispute
	for _, d := range m.disputes {
		if (orgID == "" || d.HospitalOrgID == orgID || d.ProviderOrgID == orgID) && (status == "" || d.Status == status) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) Update(ctx context.Context, d *domain.Dispute, from domain.Status) (bool, error) {
	cur, ok := m.disputes[d.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return true, nil
}

// requests fakes both the request store and the status moves the service drives.
type requests map[string]*srdomain.ServiceRequest

func (r requests) GetByID(ctx context.Context, id string) (*srdomain.ServiceRequest, error) {
	sr, ok := r[id]
	if !ok {
		return nil, nil
	}
	cp := *sr
	return &cp, nil
}

func (r requests) MarkDisputed(ctx context.Context, id string) (*srdomain.ServiceRequest, error) {
	r[id].Status = srdomain.StatusDisputed
	return r[id], nil
}

func (r requests) SettleDispute(ctx context.Context, id string, refund bool) (*srdomain.ServiceRequest, error) {
	r[id].Status = srdomain.StatusCompleted
	if refund {
		r[id].Status = srdomain.StatusRefunded
	}
	return r[id], nil
}

type refunds struct{ refunded []string }

func (f *refunds) RefundServicePayment(ctx context.Context, hospitalOrgID, requestID string) (*billingdomain.Payment, error) {
	f.refunded = append(f.refunded, requestID)
	return &billingdomain.Payment{Reference: requestID, Status: billingdomain.PaymentRefunded}, nil
}

type fakeEngine struct {
	started   []string
	signals   []workflow.Decision
	signalErr error
}

func (e *fakeEngine) Start(ctx context.Context, id string) error {
	e.started = append(e.started, id)
	return nil
}

func (e *fakeEngine) Signal(ctx context.Context, id string, d workflow.Decision) error {
	if e.signalErr != nil {
		return e.signalErr
	}
	e.signals = append(e.signals, d)
	return nil
}

type anyMember struct{}

func (anyMember) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	return &membershipdomain.Membership{UserID: userID, OrgID: orgID, Role: membershipdomain.RoleMember}, nil
}

type recorder struct {
	events []events.Event
	audits []audit.Event
}

func (r *recorder) Publish(ctx context.Context, e events.Event) { r.events = append(r.events, e) }
func (r *recorder) LogEvent(ctx context.Context, e audit.Event) { r.audits = append(r.audits, e) }

type fixture struct {
	svc     *Service
	repo    *memRepo
	reqs    requests
	refunds *refunds
	rec     *recorder
}

func newFixture(engine Engine) *fixture {
	f := &fixture{
		repo: &memRepo{disputes: map[string]*domain.Dispute{}},
		reqs: requests{
			"sr-1": {ID: "sr-1", HospitalOrgID: "h1", ProviderOrgID: "p1", Status: srdomain.StatusCompleted},
			"sr-2": {ID: "sr-2", HospitalOrgID: "h1", ProviderOrgID: "p1", Status: srdomain.StatusInProgress},
		},
		refunds: &refunds{},
		rec:     &recorder{},
	}
	f.svc = NewService(f.repo, f.reqs, f.reqs, f.refunds, engine, anyMember{}, db.NoTx{}, f.rec, f.rec, nil)
	return f
}

func hospital(orgID string) context.Context {
	return authctx.WithIdentity(context.Background(), authctx.Identity{UserID: "hu", OrgID: orgID, OrgType: "hospital", OrgStatus: "active"})
}

func provider(orgID string) context.Context {
	return authctx.WithIdentity(context.Background(), authctx.Identity{UserID: "pu", OrgID: orgID, OrgType: "provider", OrgStatus: "active"})
}

func admin() context.Context {
	return authctx.WithIdentity(context.Background(), authctx.Identity{UserID: "admin", PlatformAdmin: true})
}

func (f *fixture) open(t *testing.T) *domain.Dispute {
	t.Helper()
	d, err := f.svc.Open(hospital("h1"), "sr-1", "pump still alarms")
	require.NoError(t, err)
	return d
}

func TestOpen(t *testing.T) {
	f := newFixture(nil)
	d := f.open(t)

	assert.Equal(t, domain.StatusOpen, d.Status)
	assert.Equal(t, "p1", d.ProviderOrgID)
	assert.Equal(t, srdomain.StatusDisputed, f.reqs["sr-1"].Status)
	require.Len(t, f.rec.events, 1)
	assert.Equal(t, events.DisputeOpened, f.rec.events[0].Type)
	assert.ElementsMatch(t, []string{"h1", "p1"}, f.rec.events[0].OrgIDs)
	require.Len(t, f.rec.audits, 1)
	assert.Equal(t, "open", f.rec.audits[0].Action)
}

func TestOpen_Rejections(t *testing.T) {
	f := newFixture(nil)

	_, err := f.svc.Open(hospital("h1"), "sr-2", "x")
	assert.True(t, apperr.Is(err, apperr.KindFailedPrecondition), "not completed: %v", err)

	_, err = f.svc.Open(hospital("h2"), "sr-1", "x")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "foreign request: %v", err)

	_, err = f.svc.Open(provider("p1"), "sr-1", "x")
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	_, err = f.svc.Open(hospital("h1"), "sr-1", "  ")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	f.open(t)
	_, err = f.svc.Open(hospital("h1"), "sr-1", "again")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "second dispute: %v", err)
}

func TestResolve_SyncHospitalWins(t *testing.T) {
	f := newFixture(nil)
	d := f.open(t)

	got, applied, err := f.svc.Resolve(admin(), d.ID, "hospital", "no fix delivered")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StatusResolvedHospital, got.Status)
	assert.Equal(t, "no fix delivered", got.Resolution)
	assert.NotNil(t, got.ResolvedAt)
	assert.Equal(t, srdomain.StatusRefunded, f.reqs["sr-1"].Status)
	assert.Equal(t, []string{"sr-1"}, f.refunds.refunded)
	assert.Equal(t, events.DisputeResolved, f.rec.events[len(f.rec.events)-1].Type)
}

func TestResolve_SyncProviderWins(t *testing.T) {
	f := newFixture(nil)
	d := f.open(t)

	got, _, err := f.svc.Resolve(admin(), d.ID, "provider", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolvedProvider, got.Status)
	assert.Equal(t, srdomain.StatusCompleted, f.reqs["sr-1"].Status)
	assert.Empty(t, f.refunds.refunded)

	_, _, err = f.svc.Resolve(admin(), d.ID, "hospital", "")
	assert.True(t, apperr.Is(err, apperr.KindFailedPrecondition), "closed: %v", err)
}

func TestResolve_Validation(t *testing.T) {
	f := newFixture(nil)
	d := f.open(t)

	_, _, err := f.svc.Resolve(hospital("h1"), d.ID, "hospital", "")
	assert.True(t, apperr.Is(err, apperr.KindPermissionDenied))

	_, _, err = f.svc.Resolve(admin(), d.ID, "split", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, _, err = f.svc.Resolve(admin(), "missing", "hospital", "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestResolve_WithEngineSignals(t *testing.T) {
	eng := &fakeEngine{}
	f := newFixture(eng)
	d := f.open(t)
	assert.Equal(t, []string{d.ID}, eng.started)

	got, applied, err := f.svc.Resolve(admin(), d.ID, "hospital", "refund")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.StatusOpen, got.Status)
	require.Len(t, eng.signals, 1)
	assert.Equal(t, workflow.Decision{Decision: "hospital", Resolution: "refund", ResolvedBy: "admin"}, eng.signals[0])

	// The workflow activity then applies it, and a retry is harmless.
	require.NoError(t, f.svc.ApplyDecision(context.Background(), d.ID, "hospital", "refund", "admin"))
	require.NoError(t, f.svc.ApplyDecision(context.Background(), d.ID, "hospital", "refund", "admin"))
	assert.Equal(t, domain.StatusResolvedHospital, f.repo.disputes[d.ID].Status)
	assert.Equal(t, []string{"sr-1"}, f.refunds.refunded)
}

func TestResolve_FallsBackWhenWorkflowMissing(t *testing.T) {
	eng := &fakeEngine{signalErr: workflow.ErrNotRunning}
	f := newFixture(eng)
	d := f.open(t)

	got, applied, err := f.svc.Resolve(admin(), d.ID, "provider", "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StatusResolvedProvider, got.Status)
}

func TestEscalate(t *testing.T) {
	f := newFixture(nil)
	d := f.open(t)

	require.NoError(t, f.svc.Escalate(context.Background(), d.ID))
	got := f.repo.disputes[d.ID]
	assert.Equal(t, domain.StatusUnderReview, got.Status)
	assert.NotNil(t, got.EscalatedAt)
	assert.Equal(t, events.DisputeEscalated, f.rec.events[len(f.rec.events)-1].Type)

	n := len(f.rec.events)
	require.NoError(t, f.svc.Escalate(context.Background(), d.ID))
	assert.Len(t, f.rec.events, n, "second escalation is a no-op")

	got2, _, err := f.svc.Resolve(admin(), d.ID, "provider", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolvedProvider, got2.Status)
}

func TestWithdraw(t *testing.T) {
	eng := &fakeEngine{}
	f := newFixture(eng)
	d := f.open(t)

	_, err := f.svc.Withdraw(hospital("h2"), d.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err := f.svc.Withdraw(hospital("h1"), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWithdrawn, got.Status)
	assert.Equal(t, srdomain.StatusCompleted, f.reqs["sr-1"].Status)
	require.Len(t, eng.signals, 1)
	assert.Equal(t, workflow.DecisionWithdraw, eng.signals[0].Decision)

	_, err = f.svc.Withdraw(hospital("h1"), d.ID)
	assert.True(t, apperr.Is(err, apperr.KindFailedPrecondition))
}

func TestGetAndList_Visibility(t *testing.T) {
	f := newFixture(nil)
	d := f.open(t)

	_, err := f.svc.Get(provider("p1"), d.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(provider("p2"), d.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.svc.Get(admin(), d.ID)
	assert.NoError(t, err)

	mine, err := f.svc.List(hospital("h1"), "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	none, err := f.svc.List(provider("p2"), "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	all, err := f.svc.List(admin(), domain.StatusOpen, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.List(admin(), "bogus", 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestApplyDecision_PropagatesStoreErrors(t *testing.T) {
	f := newFixture(nil)
	f.svc.repo = failingRepo{f.repo}
	err := f.svc.ApplyDecision(context.Background(), "d", "hospital", "", "")
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

type failingRepo struct{ *memRepo }

func (failingRepo) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	return nil, errors.New("connection reset")
}
