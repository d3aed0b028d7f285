// Package handler lets organization admins inspect and revoke their members' sessions.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/audit"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
	"medilink/internal/platform/rbac"
	"medilink/internal/session/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Store is the session persistence the handler needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListByOrg(ctx context.Context, orgID, userID string, limit, offset int) ([]*domain.Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllSessionsByUserAndOrg(ctx context.Context, userID, orgID string) error
}

// Handler serves /api/sessions.
type Handler struct {
	sessions Store
	members  rbac.OrgMembershipGetter
	audit    audit.AuditLogger
	now      func() time.Time
}

// NewHandler returns a session management handler. auditLogger may be nil.
func NewHandler(sessions Store, members rbac.OrgMembershipGetter, auditLogger audit.AuditLogger) *Handler {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{sessions: sessions, members: members, audit: auditLogger, now: time.Now}
}

// Routes registers the session routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/sessions", h.list)
	r.Post("/api/sessions/revoke-user", h.revokeUser)
	r.Get("/api/sessions/{sessionID}", h.get)
	r.Delete("/api/sessions/{sessionID}", h.revoke)
}

type sessionView struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	OrgID      string     `json:"org_id"`
	IPAddress  string     `json:"ip_address,omitempty"`
	Active     bool       `json:"active"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (h *Handler) toView(s *domain.Session) sessionView {
	return sessionView{
		ID: s.ID, UserID: s.UserID, OrgID: s.OrgID, IPAddress: s.IPAddress, Active: s.Active(h.now()),
		ExpiresAt: s.ExpiresAt.UTC(), RevokedAt: s.RevokedAt, LastSeenAt: s.LastSeenAt, CreatedAt: s.CreatedAt.UTC(),
	}
}

var errNotFound = apperr.NotFound("Session not found.", "セッションが見つかりません。")

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	c, err := rbac.RequireOrgAdmin(r.Context(), h.members)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	size := httpx.QueryInt(r, "page_size", defaultPageSize)
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	offset := max(httpx.QueryInt(r, "offset", 0), 0)

	list, err := h.sessions.ListByOrg(r.Context(), c.OrgID, strings.TrimSpace(r.URL.Query().Get("user_id")), size, offset)
	if err != nil {
		apperr.Write(w, r, apperr.Internal(err))
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, h.toView(s))
	}
	next := ""
	if len(list) == size {
		next = strconv.Itoa(offset + size)
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Sessions   []sessionView `json:"sessions"`
		NextOffset string        `json:"next_offset,omitempty"`
	}{out, next})
}

// orgSession loads the path's session and hides it when it belongs to another org.
func (h *Handler) orgSession(r *http.Request, orgID string) (*domain.Session, error) {
	s, err := h.sessions.GetByID(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if s == nil || s.OrgID != orgID {
		return nil, errNotFound
	}
	return s, nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, err := rbac.RequireOrgAdmin(r.Context(), h.members)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	s, err := h.orgSession(r, c.OrgID)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Session sessionView `json:"session"`
	}{h.toView(s)})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	c, err := rbac.RequireOrgAdmin(r.Context(), h.members)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	s, err := h.orgSession(r, c.OrgID)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if s.RevokedAt == nil {
		if err := h.sessions.Revoke(r.Context(), s.ID); err != nil {
			apperr.Write(w, r, apperr.Internal(err))
			return
		}
	}
	h.audit.LogEvent(r.Context(), audit.Event{
		OrgID: c.OrgID, UserID: c.UserID, Action: "revoke", Resource: "session", ResourceID: s.ID,
		Metadata: map[string]any{"target_user_id": s.UserID},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeUser(w http.ResponseWriter, r *http.Request) {
	c, err := rbac.RequireOrgAdmin(r.Context(), h.members)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		apperr.Write(w, r, err)
		return
	}
	target := strings.TrimSpace(body.UserID)
	if target == "" {
		apperr.Write(w, r, apperr.Invalid("user_id is required.", "user_id は必須です。"))
		return
	}
	if err := h.sessions.RevokeAllSessionsByUserAndOrg(r.Context(), target, c.OrgID); err != nil {
		apperr.Write(w, r, apperr.Internal(err))
		return
	}
	h.audit.LogEvent(r.Context(), audit.Event{
		OrgID: c.OrgID, UserID: c.UserID, Action: "revoke", Resource: "session", ResourceID: "all:" + target,
		Metadata: map[string]any{"target_user_id": target},
	})
	w.WriteHeader(http.StatusNoContent)
}
