// Package rbac holds the authorization checks shared by services.
package rbac

import (
	"context"

	"medilink/internal/membership/domain"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
)

// OrgMembershipGetter returns a user's membership in an org, or nil when there is none.
type OrgMembershipGetter interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

// Caller is the outcome of a successful org check.
type Caller struct {
	UserID  string
	OrgID   string
	OrgType string
	Role    domain.Role
}

var (
	errNoOrg = apperr.PermissionDenied(
		"Select or create an organization first.",
		"先に組織を選択または作成してください。")
	errNotMember = apperr.PermissionDenied(
		"You are not a member of this organization.",
		"この組織のメンバーではありません。")
	errNotAdmin = apperr.PermissionDenied(
		"Organization admin or owner required.",
		"組織の管理者またはオーナー権限が必要です。")
	errSuspended = apperr.PermissionDenied(
		"This organization is suspended.",
		"この組織は停止されています。")
	errPlatformAdmin = apperr.PermissionDenied(
		"Platform administrator access required.",
		"プラットフォーム管理者権限が必要です。")
)

// RequireUser ensures the caller is authenticated.
func RequireUser(ctx context.Context) (authctx.Identity, error) {
	id, ok := authctx.From(ctx)
	if !ok {
		return authctx.Identity{}, apperr.Unauthenticated()
	}
	return id, nil
}

// RequirePlatformAdmin ensures the caller is an authenticated platform admin.
func RequirePlatformAdmin(ctx context.Context) (string, error) {
	id, err := RequireUser(ctx)
	if err != nil {
		return "", err
	}
	if !id.PlatformAdmin {
		return "", errPlatformAdmin
	}
	return id.UserID, nil
}

// RequireOrgMember ensures the caller belongs (any role) to the active org and that the org is not suspended.
func RequireOrgMember(ctx context.Context, getter OrgMembershipGetter) (Caller, error) {
	id, err := RequireUser(ctx)
	if err != nil {
		return Caller{}, err
	}
	if id.OrgID == "" {
		return Caller{}, errNoOrg
	}
	m, err := getter.GetMembershipByUserAndOrg(ctx, id.UserID, id.OrgID)
	if err != nil {
		return Caller{}, apperr.Internal(err)
	}
	if m == nil {
		return Caller{}, errNotMember
	}
	if id.OrgStatus == "suspended" {
		return Caller{}, errSuspended
	}
	return Caller{UserID: id.UserID, OrgID: id.OrgID, OrgType: id.OrgType, Role: m.Role}, nil
}

// RequireOrgAdmin is RequireOrgMember restricted to owners and admins.
func RequireOrgAdmin(ctx context.Context, getter OrgMembershipGetter) (Caller, error) {
	c, err := RequireOrgMember(ctx, getter)
	if err != nil {
		return Caller{}, err
	}
	if !c.Role.CanManage() {
		return Caller{}, errNotAdmin
	}
	return c, nil
}

// RequireOrgType is RequireOrgMember restricted to an org of the given type (hospital or provider).
func RequireOrgType(ctx context.Context, getter OrgMembershipGetter, orgType string) (Caller, error) {
	c, err := RequireOrgMember(ctx, getter)
	if err != nil {
		return Caller{}, err
	}
	if c.OrgType != orgType {
		if orgType == "hospital" {
			return Caller{}, apperr.PermissionDenied("Only hospital organizations can do this.", "この操作は病院組織のみ実行できます。")
		}
		return Caller{}, apperr.PermissionDenied("Only provider organizations can do this.", "この操作はプロバイダー組織のみ実行できます。")
	}
	return c, nil
}
