package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	membershipdomain "medilink/internal/membership/domain"
	orgdomain "medilink/internal/organization/domain"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/cookies"
	"medilink/internal/security"
	sessiondomain "medilink/internal/session/domain"
	userdomain "medilink/internal/user/domain"
)

// fakeTokens maps raw tokens to their claims.
type fakeTokens map[string]*security.Claims

func (f fakeTokens) ValidateAccess(token string) (*security.Claims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

type fakeSessions map[string]*sessiondomain.Session

func (f fakeSessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	return f[id], nil
}

type fakeUsers map[string]*userdomain.User

func (f fakeUsers) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	return f[id], nil
}

type fakeMembers []*membershipdomain.Membership

func (f fakeMembers) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	for _, m := range f {
		if m.UserID == userID && m.OrgID == orgID {
			return m, nil
		}
	}
	return nil, nil
}

func (f fakeMembers) ListMembershipsByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error) {
	var out []*membershipdomain.Membership
	for _, m := range f {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeOrgs map[string]*orgdomain.Org

func (f fakeOrgs) GetByID(ctx context.Context, id string) (*orgdomain.Org, error) {
	return f[id], nil
}

func claims(session, user, org string) *security.Claims {
	return &security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user},
		Kind:             "access",
		SessionID:        session,
		OrgID:            org,
	}
}

func newTestResolver() *Resolver {
	future := time.Now().Add(time.Hour)
	revoked := time.Now().Add(-time.Minute)
	return NewResolver(
		fakeTokens{
			"tok-u1":      claims("s1", "u1", "h1"),
			"tok-admin":   claims("s2", "admin", ""),
			"tok-revoked": claims("s3", "u1", "h1"),
			"tok-u2":      claims("s4", "u2", ""),
			"tok-wrong":   claims("s1", "u2", ""),
		},
		fakeSessions{
			"s1": {ID: "s1", UserID: "u1", ExpiresAt: future},
			"s2": {ID: "s2", UserID: "admin", ExpiresAt: future},
			"s3": {ID: "s3", UserID: "u1", ExpiresAt: future, RevokedAt: &revoked},
			"s4": {ID: "s4", UserID: "u2", ExpiresAt: future},
		},
		fakeUsers{
			"u1":    {ID: "u1", Status: userdomain.UserStatusActive, PlatformRole: userdomain.PlatformRoleNone},
			"u2":    {ID: "u2", Status: userdomain.UserStatusActive},
			"admin": {ID: "admin", Status: userdomain.UserStatusActive, PlatformRole: userdomain.PlatformRoleAdmin},
		},
		fakeMembers{
			{UserID: "u1", OrgID: "h1", Role: membershipdomain.RoleOwner},
			{UserID: "u1", OrgID: "p1", Role: membershipdomain.RoleMember},
			{UserID: "u1", OrgID: "x1", Role: membershipdomain.RoleMember},
			{UserID: "u2", OrgID: "x1", Role: membershipdomain.RoleAdmin},
		},
		fakeOrgs{
			"h1": {ID: "h1", Type: orgdomain.OrgTypeHospital, Status: orgdomain.OrgStatusActive},
			"p1": {ID: "p1", Type: orgdomain.OrgTypeProvider, Status: orgdomain.OrgStatusActive},
			"x1": {ID: "x1", Type: orgdomain.OrgTypeProvider, Status: orgdomain.OrgStatusSuspended},
		},
	)
}

func request(bearer, sessionCookie, orgCookie string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/hospital", nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	if sessionCookie != "" {
		r.AddCookie(&http.Cookie{Name: cookies.Session, Value: sessionCookie})
	}
	if orgCookie != "" {
		r.AddCookie(&http.Cookie{Name: cookies.Org, Value: orgCookie})
	}
	return r
}

func TestResolver_Resolve(t *testing.T) {
	res := newTestResolver()
	hospitalOwner := authctx.Identity{UserID: "u1", SessionID: "s1", OrgID: "h1", OrgType: "hospital", OrgStatus: "active", Role: "owner"}

	tests := []struct {
		name string
		req  *http.Request
		want authctx.Identity
	}{
		{"anonymous", request("", "", ""), authctx.Identity{}},
		{"bad token", request("nope", "", ""), authctx.Identity{}},
		{"revoked session", request("", "tok-revoked", ""), authctx.Identity{}},
		{"token for another user's session", request("tok-wrong", "", ""), authctx.Identity{}},
		{"cookie session uses token org", request("", "tok-u1", ""), hospitalOwner},
		{"bearer wins over cookie", request("tok-u1", "tok-admin", ""), hospitalOwner},
		{"routing cookie picks member org", request("", "tok-u1", "p1"),
			authctx.Identity{UserID: "u1", SessionID: "s1", OrgID: "p1", OrgType: "provider", OrgStatus: "active", Role: "member"}},
		{"routing cookie ignored for suspended org", request("", "tok-u1", "x1"), hospitalOwner},
		{"routing cookie ignored for foreign org", request("", "tok-u1", "zz"), hospitalOwner},
		{"platform admin without org", request("tok-admin", "", ""),
			authctx.Identity{UserID: "admin", SessionID: "s2", PlatformAdmin: true}},
		{"only suspended membership", request("tok-u2", "", ""),
			authctx.Identity{UserID: "u2", SessionID: "s4", OrgID: "x1", OrgType: "provider", OrgStatus: "suspended", Role: "admin"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := res.Resolve(context.Background(), tc.req)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAccessToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer  abc ")
	if got := AccessToken(r); got != "abc" {
		t.Errorf("AccessToken = %q", got)
	}
	r.Header.Set("Authorization", "Basic xyz")
	if got := AccessToken(r); got != "" {
		t.Errorf("AccessToken = %q, want empty for non-bearer", got)
	}
}
