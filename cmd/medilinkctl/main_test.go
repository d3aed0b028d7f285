package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditdomain "medilink/internal/audit/domain"
	auditservice "medilink/internal/audit/service"
	creditsdomain "medilink/internal/credits/domain"
	orgdomain "medilink/internal/organization/domain"
	"medilink/internal/platform/authctx"
	userdomain "medilink/internal/user/domain"
)

type fakeBackend struct {
	filter   string
	operator authctx.Identity
	grants   []string
	orgs     []string
	renewAt  time.Time
	closed   bool
}

func (f *fakeBackend) Export(ctx context.Context, sink auditservice.RowWriter, filter string) (auditservice.ExportResult, error) {
	f.filter = filter
	f.operator, _ = authctx.From(ctx)
	if err := sink.WriteRow(&auditdomain.AuditLog{Seq: 1, ID: "a1", OrgID: "h1", Action: "create", Resource: "equipment"}); err != nil {
		return auditservice.ExportResult{}, err
	}
	return auditservice.ExportResult{Rows: 1}, sink.Flush()
}

func (f *fakeBackend) Grant(ctx context.Context, orgID string, amount int64, reason creditsdomain.Reason, reference string) (*creditsdomain.Transaction, error) {
	if reason != creditsdomain.ReasonGrant && reason != creditsdomain.ReasonAdjust {
		return nil, errors.New("bad reason")
	}
	f.grants = append(f.grants, orgID+":"+reference)
	return &creditsdomain.Transaction{ID: "t1", OrgID: orgID, Delta: amount, BalanceAfter: amount, Reason: reason}, nil
}

func (f *fakeBackend) CreateForOwner(ctx context.Context, ownerUserID, name string, orgType orgdomain.OrgType, contactEmail string) (*orgdomain.Org, error) {
	f.orgs = append(f.orgs, ownerUserID+":"+name+":"+string(orgType)+":"+contactEmail)
	return &orgdomain.Org{ID: "o1", Name: name, Type: orgType}, nil
}

func (f *fakeBackend) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	if email == "owner@sakura.example" {
		return &userdomain.User{ID: "u1", Email: email}, nil
	}
	return nil, nil
}

func (f *fakeBackend) RenewDue(ctx context.Context, now time.Time) (int, error) {
	f.renewAt = now
	return 3, nil
}

func run(t *testing.T, f *fakeBackend, args ...string) (string, error) {
	t.Helper()
	open := func(ctx context.Context) (*backend, error) {
		return &backend{audit: f, credits: f, orgs: f, users: f, billing: f, close: func() error {
			f.closed = true
			return nil
		}}, nil
	}
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAuditExport(t *testing.T) {
	f := &fakeBackend{}
	out, err := run(t, f, "audit", "export", "--org", "h1", "--filter", `action = "create"`, "--format", "jsonl")
	require.NoError(t, err)
	assert.Equal(t, `org_id = "h1" AND (action = "create")`, f.filter)
	assert.True(t, f.operator.PlatformAdmin)
	assert.Contains(t, out, `"action":"create"`)
	assert.True(t, f.closed)

	out, err = run(t, f, "audit", "export")
	require.NoError(t, err)
	assert.Empty(t, f.filter)
	assert.True(t, strings.HasPrefix(out, "seq,id,created_at"))
}

func TestAuditExport_BadFormat(t *testing.T) {
	_, err := run(t, &fakeBackend{}, "audit", "export", "--format", "xml")
	assert.Error(t, err)
}

func TestCreditsGrant(t *testing.T) {
	f := &fakeBackend{}
	out, err := run(t, f, "credits", "grant", "--org", "h1", "--amount", "25", "--reference", "promo-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"h1:promo-1"}, f.grants)
	assert.Contains(t, out, "granted 25 credits to h1")

	_, err = run(t, f, "credits", "grant", "--amount", "25")
	assert.ErrorContains(t, err, `"org"`)

	_, err = run(t, f, "credits", "grant", "--org", "h1", "--amount=-1")
	assert.ErrorContains(t, err, "positive")
}

func TestOrgCreate(t *testing.T) {
	f := &fakeBackend{}
	out, err := run(t, f, "org", "create", "--name", "Sakura", "--type", "Hospital", "--owner-email", "owner@sakura.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1:Sakura:hospital:owner@sakura.example"}, f.orgs)
	assert.Contains(t, out, "o1")

	_, err = run(t, f, "org", "create", "--name", "X", "--type", "clinic", "--owner-email", "owner@sakura.example")
	assert.ErrorContains(t, err, "hospital or provider")

	_, err = run(t, f, "org", "create", "--name", "X", "--type", "provider", "--owner-email", "nobody@x.example")
	assert.ErrorContains(t, err, "no user")
}

func TestBillingRenew(t *testing.T) {
	f := &fakeBackend{}
	out, err := run(t, f, "billing", "renew")
	require.NoError(t, err)
	assert.Contains(t, out, "renewed 3 subscriptions")
	assert.False(t, f.renewAt.IsZero())
}

func TestScopedFilter(t *testing.T) {
	assert.Equal(t, "", scopedFilter("", " "))
	assert.Equal(t, `action = "x"`, scopedFilter("", `action = "x"`))
	assert.Equal(t, `org_id = "h1"`, scopedFilter("h1", ""))
}
