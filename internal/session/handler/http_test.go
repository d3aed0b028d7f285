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

	"medilink/internal/audit"
	membershipdomain "medilink/internal/membership/domain"
	"medilink/internal/platform/authctx"
	"medilink/internal/session/domain"
)

type memStore struct {
	sessions map[string]*domain.Session
	order    []string
}

func (m *memStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return m.sessions[id], nil
}

func (m *memStore) ListByOrg(ctx context.Context, orgID, userID string, limit, offset int) ([]*domain.Session, error) {
	var matched []*domain.Session
	for _, id := range m.order {
		s := m.sessions[id]
		if s.OrgID == orgID && (userID == "" || s.UserID == userID) {
			matched = append(matched, s)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memStore) Revoke(ctx context.Context, id string) error {
	now := time.Now()
	m.sessions[id].RevokedAt = &now
	return nil
}

func (m *memStore) RevokeAllSessionsByUserAndOrg(ctx context.Context, userID, orgID string) error {
	now := time.Now()
	for _, s := range m.sessions {
		if s.UserID == userID && s.OrgID == orgID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

type roles map[string]membershipdomain.Role

func (r roles) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	role, ok := r[userID+"@"+orgID]
	if !ok {
		return nil, nil
	}
	return &membershipdomain.Membership{UserID: userID, OrgID: orgID, Role: role}, nil
}

type recordingAudit struct{ events []audit.Event }

func (a *recordingAudit) LogEvent(ctx context.Context, e audit.Event) { a.events = append(a.events, e) }

func newStore() *memStore {
	exp := time.Now().Add(time.Hour)
	m := &memStore{sessions: map[string]*domain.Session{}}
	for _, s := range []*domain.Session{
		{ID: "s1", UserID: "u2", OrgID: "org-1", ExpiresAt: exp},
		{ID: "s2", UserID: "u2", OrgID: "org-1", ExpiresAt: exp},
		{ID: "s3", UserID: "u3", OrgID: "org-1", ExpiresAt: exp},
		{ID: "s4", UserID: "u2", OrgID: "org-2", ExpiresAt: exp},
	} {
		m.sessions[s.ID] = s
		m.order = append(m.order, s.ID)
	}
	return m
}

var members = roles{
	"admin@org-1":  membershipdomain.RoleAdmin,
	"u2@org-1":     membershipdomain.RoleMember,
	"admin2@org-2": membershipdomain.RoleOwner,
}

func newRouter(store Store, a audit.AuditLogger, userID, orgID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id := authctx.Identity{UserID: userID, OrgID: orgID, OrgType: "hospital", OrgStatus: "active"}
			next.ServeHTTP(w, req.WithContext(authctx.WithIdentity(req.Context(), id)))
		})
	})
	NewHandler(store, members, a).Routes(r)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestList_PagesWithinOrg(t *testing.T) {
	h := newRouter(newStore(), nil, "admin", "org-1")

	rec := do(h, http.MethodGet, "/api/sessions?page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Sessions []struct {
			ID     string `json:"id"`
			Active bool   `json:"active"`
		} `json:"sessions"`
		NextOffset string `json:"next_offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Sessions, 2)
	assert.True(t, page.Sessions[0].Active)
	assert.Equal(t, "2", page.NextOffset)

	rec = do(h, http.MethodGet, "/api/sessions?page_size=2&offset=2", "")
	page.Sessions, page.NextOffset = nil, ""
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, "s3", page.Sessions[0].ID)
	assert.Empty(t, page.NextOffset)

	rec = do(h, http.MethodGet, "/api/sessions?user_id=u3", "")
	page.Sessions, page.NextOffset = nil, ""
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Sessions, 1)
}

func TestList_MemberForbidden(t *testing.T) {
	rec := do(newRouter(newStore(), nil, "u2", "org-1"), http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGet_OtherOrgHidden(t *testing.T) {
	h := newRouter(newStore(), nil, "admin", "org-1")

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/sessions/s1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/sessions/s4", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/sessions/missing", "").Code)
}

func TestRevoke(t *testing.T) {
	store := newStore()
	rec := &recordingAudit{}
	h := newRouter(store, rec, "admin", "org-1")

	resp := do(h, http.MethodDelete, "/api/sessions/s1", "")
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())
	assert.NotNil(t, store.sessions["s1"].RevokedAt)
	assert.Nil(t, store.sessions["s2"].RevokedAt)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "revoke", rec.events[0].Action)
	assert.Equal(t, "s1", rec.events[0].ResourceID)
	assert.Equal(t, "u2", rec.events[0].Metadata["target_user_id"])

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodDelete, "/api/sessions/s4", "").Code)
	assert.Nil(t, store.sessions["s4"].RevokedAt)
}

func TestRevokeUser_OnlyCallerOrg(t *testing.T) {
	store := newStore()
	rec := &recordingAudit{}
	h := newRouter(store, rec, "admin", "org-1")

	resp := do(h, http.MethodPost, "/api/sessions/revoke-user", `{"user_id":"u2"}`)
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())
	assert.NotNil(t, store.sessions["s1"].RevokedAt)
	assert.NotNil(t, store.sessions["s2"].RevokedAt)
	assert.Nil(t, store.sessions["s3"].RevokedAt)
	assert.Nil(t, store.sessions["s4"].RevokedAt)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "all:u2", rec.events[0].ResourceID)

	resp = do(h, http.MethodPost, "/api/sessions/revoke-user", `{"user_id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
