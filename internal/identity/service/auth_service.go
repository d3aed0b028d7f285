package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"medilink/internal/audit"
	"medilink/internal/db"
	identitydomain "medilink/internal/identity/domain"
	membershipdomain "medilink/internal/membership/domain"
	orgdomain "medilink/internal/organization/domain"
	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	"medilink/internal/security"
	sessiondomain "medilink/internal/session/domain"
	userdomain "medilink/internal/user/domain"
)

// Sentinel errors for the auth service. They reach callers wrapped in an apperr.Error.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInvalidRefreshToken    = errors.New("invalid or expired refresh token")
	ErrRefreshTokenReuse      = errors.New("refresh token reuse detected; all sessions revoked")
	ErrNotOrgMember           = errors.New("user is not a member of the organization")
)

var (
	errEmailTaken = apperr.Wrap(ErrEmailAlreadyRegistered, apperr.KindConflict,
		"An account with this email already exists.", "このメールアドレスは既に登録されています。")
	errBadCredentials = apperr.Wrap(ErrInvalidCredentials, apperr.KindUnauthenticated,
		"Email or password is incorrect.", "メールアドレスまたはパスワードが正しくありません。")
	errBadRefresh = apperr.Wrap(ErrInvalidRefreshToken, apperr.KindUnauthenticated,
		"Your session has expired. Please sign in again.", "セッションの有効期限が切れました。再度サインインしてください。")
	errRefreshReuse = apperr.Wrap(ErrRefreshTokenReuse, apperr.KindUnauthenticated,
		"Your session was ended for security reasons. Please sign in again.", "セキュリティ上の理由でセッションが終了しました。再度サインインしてください。")
	errNotMember = apperr.Wrap(ErrNotOrgMember, apperr.KindPermissionDenied,
		"You are not a member of this organization.", "この組織のメンバーではありません。")
	errRotated = apperr.New(apperr.KindConflict,
		"Your session was updated elsewhere. Please try again.", "セッションが別の場所で更新されました。もう一度お試しください。")
)

// AuthResult holds the outcome of Register, Login, Refresh and SwitchOrg.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
	// OrgID is the org the session is bound to; empty when the user has none yet.
	OrgID string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.IdentityProvider) (*identitydomain.Identity, error)
	Create(ctx context.Context, i *identitydomain.Identity) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllSessionsByUser(ctx context.Context, userID string) error
	UpdateRefreshToken(ctx context.Context, sessionID, prevJti, orgID, jti, refreshTokenHash string) (bool, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// MembershipRepo is the minimal membership repository needed by the auth service.
type MembershipRepo interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

// OrgRepo is the minimal organization repository needed by the auth service.
type OrgRepo interface {
	ListByIDs(ctx context.Context, ids []string) ([]*orgdomain.Org, error)
}

// AuthService implements password register, login, refresh, logout and org switching.
type AuthService struct {
	users       UserRepo
	identities  IdentityRepo
	sessions    SessionRepo
	memberships MembershipRepo
	orgs        OrgRepo
	tx          db.TxRunner
	hasher      *security.Hasher
	tokens      *security.TokenProvider
	audit       audit.AuditLogger
	now         func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. A nil auditLogger disables auditing.
func NewAuthService(
	users UserRepo,
	identities IdentityRepo,
	sessions SessionRepo,
	memberships MembershipRepo,
	orgs OrgRepo,
	tx db.TxRunner,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	auditLogger audit.AuditLogger,
) *AuthService {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &AuthService{
		users:       users,
		identities:  identities,
		sessions:    sessions,
		memberships: memberships,
		orgs:        orgs,
		tx:          tx,
		hasher:      hasher,
		tokens:      tokens,
		audit:       auditLogger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a user with a local password identity and signs them in.
// The new session has no org until the user creates or joins one.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, "Enter a valid email address.", "有効なメールアドレスを入力してください。")
	}
	if err := security.ValidatePassword(password); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid,
			"Password must be at least 12 characters and include upper case, lower case, a number and a symbol.",
			"パスワードは12文字以上で、大文字・小文字・数字・記号をそれぞれ含めてください。")
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if existing != nil {
		return nil, errEmailTaken
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.now()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Status:    userdomain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalid, err.Error(), "入力内容が不正です。")
	}
	identity := &identitydomain.Identity{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Provider:     identitydomain.IdentityProviderLocal,
		ProviderID:   email,
		PasswordHash: hashed,
		CreatedAt:    now,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.identities.Create(ctx, identity)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errEmailTaken
		}
		return nil, apperr.Internal(err)
	}
	return s.startSession(ctx, user.ID, "")
}

// Login authenticates with email and password and creates a session bound to orgID. When orgID is
// empty the session is bound to the user's first active organization, or to none.
func (s *AuthService) Login(ctx context.Context, email, password, orgID string) (*AuthResult, error) {
	email = normalizeEmail(email)
	orgID = strings.TrimSpace(orgID)
	userID, err := s.checkPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.audit.LogEvent(ctx, audit.Event{
				Action: "login_failed", Resource: "session",
				Metadata: map[string]any{"email": email},
			})
		}
		return nil, err
	}
	if orgID != "" {
		m, err := s.memberships.GetMembershipByUserAndOrg(ctx, userID, orgID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if m == nil {
			return nil, errNotMember
		}
	} else {
		orgID, err = s.defaultOrg(ctx, userID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
	}
	res, err := s.startSession(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, audit.Event{OrgID: orgID, UserID: userID, Action: "login", Resource: "session", ResourceID: res.SessionID})
	return res, nil
}

func (s *AuthService) checkPassword(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", errBadCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return "", errBadCredentials
	}
	ident, err := s.identities.GetByUserAndProvider(ctx, user.ID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if ident == nil || ident.PasswordHash == "" {
		return "", errBadCredentials
	}
	if err := s.hasher.Compare(ident.PasswordHash, password); err != nil {
		return "", errBadCredentials
	}
	return user.ID, nil
}

// defaultOrg returns the first active org the user belongs to, else the first org, else "".
func (s *AuthService) defaultOrg(ctx context.Context, userID string) (string, error) {
	ms, err := s.memberships.ListMembershipsByUser(ctx, userID)
	if err != nil || len(ms) == 0 {
		return "", err
	}
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.OrgID)
	}
	orgs, err := s.orgs.ListByIDs(ctx, ids)
	if err != nil {
		return "", err
	}
	status := make(map[string]orgdomain.OrgStatus, len(orgs))
	for _, o := range orgs {
		status[o.ID] = o.Status
	}
	for _, id := range ids {
		if status[id] == orgdomain.OrgStatusActive {
			return id, nil
		}
	}
	return ids[0], nil
}

func (s *AuthService) startSession(ctx context.Context, userID, orgID string) (*AuthResult, error) {
	sessionID := uuid.New().String()
	refresh, err := s.tokens.IssueRefresh(sessionID, userID, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	access, err := s.tokens.IssueAccess(sessionID, userID, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	sess := &sessiondomain.Session{
		ID:               sessionID,
		UserID:           userID,
		OrgID:            orgID,
		ExpiresAt:        refresh.ExpiresAt,
		IPAddress:        audit.ClientIPFromContext(ctx),
		RefreshJti:       refresh.JTI,
		RefreshTokenHash: security.HashRefreshToken(refresh.Token),
		CreatedAt:        s.now(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, apperr.Internal(err)
	}
	return result(sessionID, userID, orgID, access, refresh), nil
}

func result(sessionID, userID, orgID string, access, refresh security.Issued) *AuthResult {
	return &AuthResult{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sessionID,
		UserID:           userID,
		OrgID:            orgID,
	}
}

// Refresh validates the refresh token, rotates it, and returns new tokens. Presenting a refresh
// token that was already rotated revokes every session of the user.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, errBadRefresh
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, errBadRefresh
	}
	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !sess.Active(s.now()) || sess.UserID != claims.UserID() {
		return nil, errBadRefresh
	}
	if sess.RefreshJti != claims.ID {
		return nil, s.refreshReused(ctx, sess)
	}
	if sess.RefreshTokenHash != "" && !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		return nil, errBadRefresh
	}

	orgID := sess.OrgID
	if orgID != "" {
		// membership may have been removed since the last rotation
		m, err := s.memberships.GetMembershipByUserAndOrg(ctx, sess.UserID, orgID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if m == nil {
			if orgID, err = s.defaultOrg(ctx, sess.UserID); err != nil {
				return nil, apperr.Internal(err)
			}
		}
	}
	res, err := s.rotate(ctx, sess, orgID)
	if errors.Is(err, errRotated) {
		// a concurrent refresh with the same token won the swap
		return nil, s.refreshReused(ctx, sess)
	}
	return res, err
}

// refreshReused revokes every session of the user after an already rotated refresh token was presented.
func (s *AuthService) refreshReused(ctx context.Context, sess *sessiondomain.Session) error {
	if err := s.sessions.RevokeAllSessionsByUser(ctx, sess.UserID); err != nil {
		return apperr.Internal(err)
	}
	s.audit.LogEvent(ctx, audit.Event{
		OrgID: sess.OrgID, UserID: sess.UserID, Action: "refresh_reuse", Resource: "session", ResourceID: sess.ID,
	})
	return errRefreshReuse
}

// rotate issues a new token pair for sess bound to orgID and records the new refresh binding. It
// returns errRotated when the session's refresh jti changed after sess was loaded.
func (s *AuthService) rotate(ctx context.Context, sess *sessiondomain.Session, orgID string) (*AuthResult, error) {
	refresh, err := s.tokens.IssueRefresh(sess.ID, sess.UserID, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	ok, err := s.sessions.UpdateRefreshToken(ctx, sess.ID, sess.RefreshJti, orgID, refresh.JTI, security.HashRefreshToken(refresh.Token))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !ok {
		return nil, errRotated
	}
	_ = s.sessions.UpdateLastSeen(ctx, sess.ID, s.now())
	access, err := s.tokens.IssueAccess(sess.ID, sess.UserID, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	// the refresh token keeps the session's original expiry window
	if refresh.ExpiresAt.After(sess.ExpiresAt) {
		refresh.ExpiresAt = sess.ExpiresAt
	}
	return result(sess.ID, sess.UserID, orgID, access, refresh), nil
}

// Logout revokes the session identified by the refresh token or by the access token in context.
// Unknown or invalid tokens are a no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	sessionID := ""
	if refreshToken != "" {
		if claims, err := s.tokens.ValidateRefresh(refreshToken); err == nil {
			sessionID = claims.SessionID
		}
	}
	if sessionID == "" {
		sessionID, _ = authctx.GetSessionID(ctx)
	}
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// SwitchOrg re-binds the caller's session to another org the caller belongs to and re-issues tokens.
func (s *AuthService) SwitchOrg(ctx context.Context, orgID string) (*AuthResult, error) {
	id, ok := authctx.From(ctx)
	if !ok || id.SessionID == "" {
		return nil, apperr.Unauthenticated()
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, apperr.Invalid("org_id is required", "org_id を指定してください。")
	}
	m, err := s.memberships.GetMembershipByUserAndOrg(ctx, id.UserID, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if m == nil {
		return nil, errNotMember
	}
	sess, err := s.sessions.GetByID(ctx, id.SessionID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !sess.Active(s.now()) {
		return nil, errBadRefresh
	}
	return s.rotate(ctx, sess, orgID)
}

// Me returns the signed-in user.
func (s *AuthService) Me(ctx context.Context) (*userdomain.User, error) {
	userID, ok := authctx.GetUserID(ctx)
	if !ok {
		return nil, apperr.Unauthenticated()
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if u == nil {
		return nil, apperr.Unauthenticated()
	}
	return u, nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}
