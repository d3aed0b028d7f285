// Package service manages who belongs to an organization and with which role.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"medilink/internal/db"
	"medilink/internal/membership/domain"
	membershiprepo "medilink/internal/membership/repository"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/rbac"
	userdomain "medilink/internal/user/domain"
)

// UserRepo is the subset of the user repository the service needs.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// Member is a membership with the member's profile.
type Member struct {
	Membership *domain.Membership
	Email      string
	Name       string
}

// Service manages organization members.
type Service struct {
	repo  membershiprepo.Repository
	users UserRepo
	tx    db.TxRunner
	now   func() time.Time
}

// NewService returns a membership service.
func NewService(repo membershiprepo.Repository, users UserRepo, tx db.TxRunner) *Service {
	return &Service{repo: repo, users: users, tx: tx, now: func() time.Time { return time.Now().UTC() }}
}

var (
	errNotMember = apperr.PermissionDenied("You are not a member of this organization.", "この組織のメンバーではありません。")
	errNotAdmin  = apperr.PermissionDenied("Organization admin or owner required.", "組織の管理者またはオーナー権限が必要です。")
	errOwnerOnly = apperr.PermissionDenied("Only an owner can change another owner.", "オーナーの変更はオーナーのみ実行できます。")
	errLastOwner = apperr.New(apperr.KindFailedPrecondition,
		"An organization must keep at least one owner.", "組織には少なくとも1人のオーナーが必要です。")
	errMemberNotFound = apperr.NotFound("Member not found.", "メンバーが見つかりません。")
	errBadRole        = apperr.Invalid("role must be owner, admin or member", "role には owner、admin、member のいずれかを指定してください。")
)

// callerRole returns the caller's role in orgID. Platform admins act as owners of every org.
func (s *Service) callerRole(ctx context.Context, orgID string) (string, domain.Role, error) {
	id, err := rbac.RequireUser(ctx)
	if err != nil {
		return "", "", err
	}
	if id.PlatformAdmin {
		return id.UserID, domain.RoleOwner, nil
	}
	m, err := s.repo.GetMembershipByUserAndOrg(ctx, id.UserID, orgID)
	if err != nil {
		return "", "", apperr.Internal(err)
	}
	if m == nil {
		return "", "", errNotMember
	}
	return id.UserID, m.Role, nil
}

func (s *Service) requireManager(ctx context.Context, orgID string) (string, domain.Role, error) {
	userID, role, err := s.callerRole(ctx, orgID)
	if err != nil {
		return "", "", err
	}
	if !role.CanManage() {
		return "", "", errNotAdmin
	}
	return userID, role, nil
}

// List returns the members of orgID. Any member may list.
func (s *Service) List(ctx context.Context, orgID string) ([]Member, error) {
	if _, _, err := s.callerRole(ctx, orgID); err != nil {
		return nil, err
	}
	ms, err := s.repo.ListMembershipsByOrg(ctx, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]Member, 0, len(ms))
	for _, m := range ms {
		u, err := s.users.GetByID(ctx, m.UserID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		member := Member{Membership: m}
		if u != nil {
			member.Email, member.Name = u.Email, u.Name
		}
		out = append(out, member)
	}
	return out, nil
}

// Add adds the registered user with email to orgID. Only owners may add owners.
func (s *Service) Add(ctx context.Context, orgID, email string, role domain.Role) (*domain.Membership, error) {
	_, callerRole, err := s.requireManager(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, errBadRole
	}
	if role == domain.RoleOwner && callerRole != domain.RoleOwner {
		return nil, errOwnerOnly
	}
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if u == nil {
		return nil, apperr.NotFound("No user is registered with that email.", "そのメールアドレスのユーザーは登録されていません。")
	}
	m := &domain.Membership{ID: uuid.New().String(), UserID: u.ID, OrgID: orgID, Role: role, CreatedAt: s.now()}
	if err := s.repo.CreateMembership(ctx, m); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.New(apperr.KindConflict, "That user is already a member.", "そのユーザーは既にメンバーです。")
		}
		return nil, apperr.Internal(err)
	}
	return m, nil
}

// Remove removes userID from orgID. Members may remove themselves; the last owner cannot be removed.
func (s *Service) Remove(ctx context.Context, orgID, userID string) error {
	callerID, callerRole, err := s.callerRole(ctx, orgID)
	if err != nil {
		return err
	}
	if callerID != userID && !callerRole.CanManage() {
		return errNotAdmin
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		target, err := s.repo.GetMembershipByUserAndOrg(ctx, userID, orgID)
		if err != nil {
			return apperr.Internal(err)
		}
		if target == nil {
			return errMemberNotFound
		}
		if target.Role == domain.RoleOwner {
			if callerID != userID && callerRole != domain.RoleOwner {
				return errOwnerOnly
			}
			if err := s.ensureAnotherOwner(ctx, orgID); err != nil {
				return err
			}
		}
		if err := s.repo.DeleteByUserAndOrg(ctx, userID, orgID); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
}

// UpdateRole changes userID's role in orgID. The last owner cannot be demoted.
func (s *Service) UpdateRole(ctx context.Context, orgID, userID string, role domain.Role) (*domain.Membership, error) {
	_, callerRole, err := s.requireManager(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, errBadRole
	}
	var updated *domain.Membership
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		target, err := s.repo.GetMembershipByUserAndOrg(ctx, userID, orgID)
		if err != nil {
			return apperr.Internal(err)
		}
		if target == nil {
			return errMemberNotFound
		}
		if (target.Role == domain.RoleOwner || role == domain.RoleOwner) && callerRole != domain.RoleOwner {
			return errOwnerOnly
		}
		if target.Role == domain.RoleOwner && role != domain.RoleOwner {
			if err := s.ensureAnotherOwner(ctx, orgID); err != nil {
				return err
			}
		}
		updated, err = s.repo.UpdateRole(ctx, userID, orgID, role)
		if err != nil {
			return apperr.Internal(err)
		}
		if updated == nil {
			return errMemberNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) ensureAnotherOwner(ctx context.Context, orgID string) error {
	n, err := s.repo.CountOwnersByOrg(ctx, orgID)
	if err != nil {
		return apperr.Internal(err)
	}
	if n <= 1 {
		return errLastOwner
	}
	return nil
}
