// Package handler lets platform administrators look up users and switch their accounts off and on.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"medilink/internal/audit"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/httpx"
	"medilink/internal/platform/rbac"
	"medilink/internal/user/domain"
)

// Store is the user persistence the handler needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAllSessionsByUser(ctx context.Context, userID string) error
}

type Handler struct {
	users    Store
	sessions SessionRevoker
	audit    audit.AuditLogger
	now      func() time.Time
}

func NewHandler(users Store, sessions SessionRevoker, auditLogger audit.AuditLogger) *Handler {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{users: users, sessions: sessions, audit: auditLogger, now: time.Now}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/admin/users", h.byEmail)
	r.Get("/api/admin/users/{userID}", h.get)
	r.Post("/api/admin/users/{userID}/disable", h.disable)
	r.Post("/api/admin/users/{userID}/enable", h.enable)
}

type userView struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PlatformRole string    `json:"platform_role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func writeUser(w http.ResponseWriter, u *domain.User) {
	httpx.WriteJSON(w, http.StatusOK, struct {
		User userView `json:"user"`
	}{userView{
		ID: u.ID, Email: u.Email, Name: u.Name, PlatformRole: string(u.PlatformRole), Status: string(u.Status),
		CreatedAt: u.CreatedAt.UTC(), UpdatedAt: u.UpdatedAt.UTC(),
	}})
}

var errNotFound = apperr.NotFound("User not found.", "ユーザーが見つかりません。")

func found(u *domain.User, err error) (*domain.User, error) {
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if u == nil {
		return nil, errNotFound
	}
	return u, nil
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	if _, err := rbac.RequirePlatformAdmin(r.Context()); err != nil {
		apperr.Write(w, r, err)
		return
	}
	u, err := found(h.users.GetByID(r.Context(), chi.URLParam(r, "userID")))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	writeUser(w, u)
}

func (h *Handler) byEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := rbac.RequirePlatformAdmin(r.Context()); err != nil {
		apperr.Write(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		apperr.Write(w, r, apperr.Invalid("email is required.", "email は必須です。"))
		return
	}
	u, err := found(h.users.GetByEmail(r.Context(), email))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	writeUser(w, u)
}

func (h *Handler) disable(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.UserStatusDisabled)
}

func (h *Handler) enable(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, domain.UserStatusActive)
}

// setStatus moves the user to status. Disabling also ends the user's sessions so access stops at once.
func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status domain.UserStatus) {
	ctx := r.Context()
	adminID, err := rbac.RequirePlatformAdmin(ctx)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	u, err := found(h.users.GetByID(ctx, chi.URLParam(r, "userID")))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if status == domain.UserStatusDisabled && u.ID == adminID {
		apperr.Write(w, r, apperr.New(apperr.KindFailedPrecondition,
			"You cannot disable your own account.", "自分のアカウントは無効化できません。"))
		return
	}
	if u.Status != status {
		from := u.Status
		u.Status = status
		u.UpdatedAt = h.now().UTC()
		if err := h.users.Update(ctx, u); err != nil {
			apperr.Write(w, r, apperr.Internal(err))
			return
		}
		action := "enable"
		if status == domain.UserStatusDisabled {
			action = "disable"
		}
		h.audit.LogEvent(ctx, audit.Event{
			OrgID: audit.SentinelOrgID, UserID: adminID, Action: action, Resource: "user", ResourceID: u.ID,
			Metadata: map[string]any{"from": string(from), "to": string(status)},
		})
	}
	if status == domain.UserStatusDisabled {
		if err := h.sessions.RevokeAllSessionsByUser(ctx, u.ID); err != nil {
			apperr.Write(w, r, apperr.Internal(err))
			return
		}
	}
	writeUser(w, u)
}
