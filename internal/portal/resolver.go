package portal

import (
	"context"
	"net/http"
	"strings"
	"time"

	membershipdomain "medilink/internal/membership/domain"
	orgdomain "medilink/internal/organization/domain"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/cookies"
	"medilink/internal/security"
	sessiondomain "medilink/internal/session/domain"
	userdomain "medilink/internal/user/domain"
)

const bearerPrefix = "bearer "

// TokenValidator validates access tokens.
type TokenValidator interface {
	ValidateAccess(token string) (*security.Claims, error)
}

type SessionStore interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

type MembershipStore interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

type OrgStore interface {
	GetByID(ctx context.Context, id string) (*orgdomain.Org, error)
}

// Resolver turns request credentials into an authctx.Identity.
type Resolver struct {
	tokens   TokenValidator
	sessions SessionStore
	users    UserStore
	members  MembershipStore
	orgs     OrgStore
	now      func() time.Time
}

func NewResolver(tokens TokenValidator, sessions SessionStore, users UserStore, members MembershipStore, orgs OrgStore) *Resolver {
	return &Resolver{
		tokens:   tokens,
		sessions: sessions,
		users:    users,
		members:  members,
		orgs:     orgs,
		now:      time.Now,
	}
}

// Resolve returns the caller of r. An anonymous caller (no token, bad token, ended session, disabled user)
// yields a zero Identity and no error; errors are store failures only.
//
// The active org is the routing cookie's org when the user belongs to it and it is active, else the org
// bound to the token, else the user's first active membership, else the first membership at all.
func (res *Resolver) Resolve(ctx context.Context, r *http.Request) (authctx.Identity, error) {
	token := AccessToken(r)
	if token == "" {
		return authctx.Identity{}, nil
	}
	claims, err := res.tokens.ValidateAccess(token)
	if err != nil {
		return authctx.Identity{}, nil
	}
	sess, err := res.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return authctx.Identity{}, err
	}
	if !sess.Active(res.now()) || sess.UserID != claims.UserID() {
		return authctx.Identity{}, nil
	}
	user, err := res.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return authctx.Identity{}, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return authctx.Identity{}, nil
	}

	id := authctx.Identity{UserID: user.ID, SessionID: sess.ID, PlatformAdmin: user.IsPlatformAdmin()}
	m, org, err := res.activeOrg(ctx, user.ID, cookies.Value(r, cookies.Org), claims.OrgID)
	if err != nil {
		return authctx.Identity{}, err
	}
	if org != nil {
		id.OrgID, id.OrgType, id.OrgStatus, id.Role = org.ID, string(org.Type), string(org.Status), string(m.Role)
	}
	return id, nil
}

func (res *Resolver) activeOrg(ctx context.Context, userID, cookieOrg, tokenOrg string) (*membershipdomain.Membership, *orgdomain.Org, error) {
	if cookieOrg != "" {
		m, o, err := res.membership(ctx, userID, cookieOrg)
		if err != nil {
			return nil, nil, err
		}
		if o != nil && o.Status == orgdomain.OrgStatusActive {
			return m, o, nil
		}
	}
	if tokenOrg != "" {
		m, o, err := res.membership(ctx, userID, tokenOrg)
		if err != nil || o != nil {
			return m, o, err
		}
	}
	list, err := res.members.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	var fallbackM *membershipdomain.Membership
	var fallbackO *orgdomain.Org
	for _, m := range list {
		o, err := res.orgs.GetByID(ctx, m.OrgID)
		if err != nil {
			return nil, nil, err
		}
		if o == nil {
			continue
		}
		if o.Status == orgdomain.OrgStatusActive {
			return m, o, nil
		}
		if fallbackO == nil {
			fallbackM, fallbackO = m, o
		}
	}
	return fallbackM, fallbackO, nil
}

// membership returns the user's membership in orgID and the org, both nil when the user is not a member.
func (res *Resolver) membership(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, *orgdomain.Org, error) {
	m, err := res.members.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil || m == nil {
		return nil, nil, err
	}
	o, err := res.orgs.GetByID(ctx, orgID)
	if err != nil || o == nil {
		return nil, nil, err
	}
	return m, o, nil
}

// AccessToken returns the bearer token, else the session cookie, else "".
func AccessToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); len(v) > len(bearerPrefix) &&
		strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(v[len(bearerPrefix):])
	}
	return cookies.Value(r, cookies.Session)
}
