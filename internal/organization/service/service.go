// Package service implements organization onboarding and platform administration of tenants.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"medilink/internal/audit"
	"medilink/internal/db"
	membershipdomain "medilink/internal/membership/domain"
	"medilink/internal/organization/domain"
	orgrepo "medilink/internal/organization/repository"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/rbac"
)

// MembershipRepo is the subset of the membership repository the service needs.
type MembershipRepo interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
	CreateMembership(ctx context.Context, m *membershipdomain.Membership) error
}

// AccountOpener creates the AI credit account of a new org.
type AccountOpener interface {
	OpenAccount(ctx context.Context, orgID string) error
}

// SubscriptionStarter puts a new org on the free plan.
type SubscriptionStarter interface {
	StartFree(ctx context.Context, orgID string) error
}

// OrgWithRole is an organization together with the caller's role in it.
type OrgWithRole struct {
	Org  *domain.Org
	Role membershipdomain.Role
}

// Service manages organizations.
type Service struct {
	orgs          orgrepo.Repository
	memberships   MembershipRepo
	accounts      AccountOpener
	subscriptions SubscriptionStarter
	tx            db.TxRunner
	audit         audit.AuditLogger
	now           func() time.Time
}

// NewService returns an organization service.
func NewService(orgs orgrepo.Repository, memberships MembershipRepo, accounts AccountOpener, subscriptions SubscriptionStarter, tx db.TxRunner, auditLogger audit.AuditLogger) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		orgs:          orgs,
		memberships:   memberships,
		accounts:      accounts,
		subscriptions: subscriptions,
		tx:            tx,
		audit:         auditLogger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var errOrgNotFound = apperr.NotFound("Organization not found.", "組織が見つかりません。")

// Create creates an organization owned by the caller, with an empty credit account and a free subscription.
func (s *Service) Create(ctx context.Context, name string, orgType domain.OrgType, contactEmail string) (*domain.Org, error) {
	caller, err := rbac.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	org := &domain.Org{
		ID:           uuid.New().String(),
		Name:         name,
		Type:         domain.OrgType(strings.ToLower(strings.TrimSpace(string(orgType)))),
		ContactEmail: strings.TrimSpace(contactEmail),
		CreatedAt:    s.now(),
	}
	if err := org.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, "Invalid organization: "+err.Error(), "組織情報が不正です: "+err.Error())
	}
	owner := &membershipdomain.Membership{
		ID:        uuid.New().String(),
		UserID:    caller.UserID,
		OrgID:     org.ID,
		Role:      membershipdomain.RoleOwner,
		CreatedAt: org.CreatedAt,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orgs.Create(ctx, org); err != nil {
			return err
		}
		if err := s.memberships.CreateMembership(ctx, owner); err != nil {
			return err
		}
		if err := s.accounts.OpenAccount(ctx, org.ID); err != nil {
			return err
		}
		return s.subscriptions.StartFree(ctx, org.ID)
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return org, nil
}

// Get returns an organization visible to the caller: any org for platform admins, otherwise one they belong to.
func (s *Service) Get(ctx context.Context, orgID string) (*domain.Org, error) {
	caller, err := rbac.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if !caller.PlatformAdmin {
		m, err := s.memberships.GetMembershipByUserAndOrg(ctx, caller.UserID, orgID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if m == nil {
			return nil, errOrgNotFound
		}
	}
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if org == nil {
		return nil, errOrgNotFound
	}
	return org, nil
}

// ListMine returns the caller's organizations with their role in each.
func (s *Service) ListMine(ctx context.Context) ([]OrgWithRole, error) {
	caller, err := rbac.RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	ms, err := s.memberships.ListMembershipsByUser(ctx, caller.UserID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(ms) == 0 {
		return []OrgWithRole{}, nil
	}
	roles := make(map[string]membershipdomain.Role, len(ms))
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		roles[m.OrgID] = m.Role
		ids = append(ids, m.OrgID)
	}
	orgs, err := s.orgs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]OrgWithRole, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, OrgWithRole{Org: o, Role: roles[o.ID]})
	}
	return out, nil
}

// ListAll returns every organization (platform admin). An empty status lists all statuses.
func (s *Service) ListAll(ctx context.Context, status domain.OrgStatus, limit, offset int) ([]*domain.Org, error) {
	if _, err := rbac.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	if status != "" && status != domain.OrgStatusActive && status != domain.OrgStatusSuspended {
		return nil, apperr.Invalid("status must be active or suspended", "status は active または suspended を指定してください。")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	orgs, err := s.orgs.List(ctx, status, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return orgs, nil
}

// Suspend blocks an organization's portal and API access (platform admin).
func (s *Service) Suspend(ctx context.Context, orgID string) (*domain.Org, error) {
	return s.setStatus(ctx, orgID, domain.OrgStatusSuspended)
}

// Activate lifts a suspension (platform admin).
func (s *Service) Activate(ctx context.Context, orgID string) (*domain.Org, error) {
	return s.setStatus(ctx, orgID, domain.OrgStatusActive)
}

func (s *Service) setStatus(ctx context.Context, orgID string, status domain.OrgStatus) (*domain.Org, error) {
	if _, err := rbac.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	org, err := s.orgs.UpdateStatus(ctx, orgID, status)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if org == nil {
		return nil, errOrgNotFound
	}
	return org, nil
}

// CreateForOwner creates an organization owned by an existing user. Used by the operator CLI and seeding,
// where no request identity exists.
func (s *Service) CreateForOwner(ctx context.Context, ownerUserID, name string, orgType domain.OrgType, contactEmail string) (*domain.Org, error) {
	org, err := s.Create(authctx.WithIdentity(ctx, authctx.Identity{UserID: ownerUserID}), name, orgType, contactEmail)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, audit.Event{OrgID: org.ID, UserID: ownerUserID, Action: "create", Resource: "organization", ResourceID: org.ID,
		Metadata: map[string]any{"source": "operator"}})
	return org, nil
}
