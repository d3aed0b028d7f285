package service

import (
	"context"
	"testing"

	"medilink/internal/db"
	"medilink/internal/membership/domain"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	userdomain "medilink/internal/user/domain"
)

// mockMembershipRepo implements membershiprepo.Repository for tests.
type mockMembershipRepo struct {
	memberships map[string]*domain.Membership // key: userID:orgID
}

func (m *mockMembershipRepo) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	return m.memberships[userID+":"+orgID], nil
}

func (m *mockMembershipRepo) ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	var out []*domain.Membership
	for _, mem := range m.memberships {
		if mem.OrgID == orgID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *mockMembershipRepo) ListMembershipsByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	return nil, nil
}

func (m *mockMembershipRepo) CreateMembership(ctx context.Context, mem *domain.Membership) error {
	m.memberships[mem.UserID+":"+mem.OrgID] = mem
	return nil
}

func (m *mockMembershipRepo) DeleteByUserAndOrg(ctx context.Context, userID, orgID string) error {
	delete(m.memberships, userID+":"+orgID)
	return nil
}

func (m *mockMembershipRepo) UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) (*domain.Membership, error) {
	mem := m.memberships[userID+":"+orgID]
	if mem == nil {
		return nil, nil
	}
	mem.Role = role
	return mem, nil
}

func (m *mockMembershipRepo) CountOwnersByOrg(ctx context.Context, orgID string) (int64, error) {
	var n int64
	for _, mem := range m.memberships {
		if mem.OrgID == orgID && mem.Role == domain.RoleOwner {
			n++
		}
	}
	return n, nil
}

type mockUserRepo map[string]*userdomain.User

func (m mockUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	for _, u := range m {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m mockUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	return m[email], nil
}

func newTestService() (*Service, *mockMembershipRepo) {
	repo := &mockMembershipRepo{memberships: map[string]*domain.Membership{
		"owner-1:org-1":  {ID: "m1", UserID: "owner-1", OrgID: "org-1", Role: domain.RoleOwner},
		"admin-1:org-1":  {ID: "m2", UserID: "admin-1", OrgID: "org-1", Role: domain.RoleAdmin},
		"member-1:org-1": {ID: "m3", UserID: "member-1", OrgID: "org-1", Role: domain.RoleMember},
	}}
	users := mockUserRepo{
		"owner@example.com": {ID: "owner-1", Email: "owner@example.com", Name: "Owner"},
		"new@example.com":   {ID: "new-1", Email: "new@example.com", Name: "New"},
	}
	return NewService(repo, users, db.NoTx{}), repo
}

func ctxAs(userID string) context.Context {
	return authctx.WithIdentity(context.Background(), authctx.Identity{UserID: userID, OrgID: "org-1"})
}

func TestAdd(t *testing.T) {
	svc, repo := newTestService()
	m, err := svc.Add(ctxAs("admin-1"), "org-1", " NEW@example.com", domain.RoleMember)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if m.UserID != "new-1" || repo.memberships["new-1:org-1"] == nil {
		t.Errorf("membership not created: %+v", m)
	}
}

func TestAdd_Rejects(t *testing.T) {
	testCases := []struct {
		name   string
		caller string
		email  string
		role   domain.Role
		kind   apperr.Kind
	}{
		{"member caller", "member-1", "new@example.com", domain.RoleMember, apperr.KindPermissionDenied},
		{"outsider", "stranger", "new@example.com", domain.RoleMember, apperr.KindPermissionDenied},
		{"admin adds owner", "admin-1", "new@example.com", domain.RoleOwner, apperr.KindPermissionDenied},
		{"bad role", "owner-1", "new@example.com", "superuser", apperr.KindInvalid},
		{"unknown email", "owner-1", "ghost@example.com", domain.RoleMember, apperr.KindNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService()
			_, err := svc.Add(ctxAs(tc.caller), "org-1", tc.email, tc.role)
			if apperr.KindOf(err) != tc.kind {
				t.Errorf("kind = %v, want %v (err %v)", apperr.KindOf(err), tc.kind, err)
			}
		})
	}
}

func TestRemove_LastOwnerProtection(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Remove(ctxAs("owner-1"), "org-1", "owner-1")
	if apperr.KindOf(err) != apperr.KindFailedPrecondition {
		t.Fatalf("kind = %v, want failed_precondition (err %v)", apperr.KindOf(err), err)
	}
}

func TestRemove_AdminCannotRemoveOwner(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Remove(ctxAs("admin-1"), "org-1", "owner-1")
	if apperr.KindOf(err) != apperr.KindPermissionDenied {
		t.Fatalf("kind = %v, want permission_denied", apperr.KindOf(err))
	}
}

func TestRemove_SelfAndAdmin(t *testing.T) {
	svc, repo := newTestService()
	if err := svc.Remove(ctxAs("member-1"), "org-1", "member-1"); err != nil {
		t.Fatalf("self remove: %v", err)
	}
	if repo.memberships["member-1:org-1"] != nil {
		t.Error("member should be removed")
	}
	if err := svc.Remove(ctxAs("admin-1"), "org-1", "nobody"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing member err = %v", err)
	}
}

func TestRemove_NonAdminCaller(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Remove(ctxAs("member-1"), "org-1", "admin-1"); apperr.KindOf(err) != apperr.KindPermissionDenied {
		t.Errorf("kind = %v, want permission_denied", apperr.KindOf(err))
	}
}

func TestUpdateRole(t *testing.T) {
	svc, _ := newTestService()
	m, err := svc.UpdateRole(ctxAs("admin-1"), "org-1", "member-1", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if m.Role != domain.RoleAdmin {
		t.Errorf("role = %v, want admin", m.Role)
	}
}

func TestUpdateRole_LastOwnerDemotionProtection(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.UpdateRole(ctxAs("owner-1"), "org-1", "owner-1", domain.RoleMember)
	if apperr.KindOf(err) != apperr.KindFailedPrecondition {
		t.Fatalf("kind = %v, want failed_precondition", apperr.KindOf(err))
	}
}

func TestUpdateRole_OwnerHandOver(t *testing.T) {
	svc, repo := newTestService()
	if _, err := svc.UpdateRole(ctxAs("owner-1"), "org-1", "admin-1", domain.RoleOwner); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if _, err := svc.UpdateRole(ctxAs("admin-1"), "org-1", "owner-1", domain.RoleAdmin); err != nil {
		t.Fatalf("demote with another owner present: %v", err)
	}
	if repo.memberships["owner-1:org-1"].Role != domain.RoleAdmin {
		t.Error("owner-1 should now be admin")
	}
}

func TestUpdateRole_InvalidRole(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.UpdateRole(ctxAs("owner-1"), "org-1", "member-1", "root"); apperr.KindOf(err) != apperr.KindInvalid {
		t.Errorf("kind = %v, want invalid", apperr.KindOf(err))
	}
}

func TestList_PlatformAdmin(t *testing.T) {
	svc, _ := newTestService()
	ctx := authctx.WithIdentity(context.Background(), authctx.Identity{UserID: "staff", PlatformAdmin: true})
	members, err := svc.List(ctx, "org-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("len = %d, want 3", len(members))
	}
	var found bool
	for _, m := range members {
		if m.Membership.UserID == "owner-1" && m.Email == "owner@example.com" {
			found = true
		}
	}
	if !found {
		t.Error("owner profile should be attached")
	}
	if _, err := svc.List(ctxAs("stranger"), "org-1"); apperr.KindOf(err) != apperr.KindPermissionDenied {
		t.Errorf("stranger err = %v", err)
	}
}
