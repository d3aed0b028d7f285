package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired, of the wrong kind, or not ours.
var ErrInvalidToken = errors.New("invalid token")

// Token kinds. A refresh token is never accepted where an access token is expected.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims are the MediLink session token claims. Subject is the user id, ID the jti.
type Claims struct {
	jwt.RegisteredClaims
	Kind      string `json:"kind"`
	SessionID string `json:"sid"`
	OrgID     string `json:"org_id,omitempty"`
}

// UserID returns the subject.
func (c *Claims) UserID() string { return c.Subject }

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and validates session JWTs signed with RS256 or ES256.
type TokenProvider struct {
	signer     crypto.Signer
	verifier   crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a provider for the key pair. The signing method follows the key type.
func NewTokenProvider(signer crypto.Signer, verifier crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	var method jwt.SigningMethod
	switch KeyAlg(signer.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		signer:     signer,
		verifier:   verifier,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// AccessTTL is the lifetime of access tokens (and of the session cookie).
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL is the lifetime of refresh tokens.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess signs a short-lived access token bound to a session and, optionally, an org.
func (p *TokenProvider) IssueAccess(sessionID, userID, orgID string) (Issued, error) {
	return p.issue(KindAccess, sessionID, userID, orgID, p.accessTTL)
}

// IssueRefresh signs a refresh token. Callers persist its JTI and hash on the session for rotation.
func (p *TokenProvider) IssueRefresh(sessionID, userID, orgID string) (Issued, error) {
	return p.issue(KindRefresh, sessionID, userID, orgID, p.refreshTTL)
}

func (p *TokenProvider) issue(kind, sessionID, userID, orgID string, ttl time.Duration) (Issued, error) {
	jti, err := generateJTI()
	if err != nil {
		return Issued{}, err
	}
	now := p.now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Kind:      kind,
		SessionID: sessionID,
		OrgID:     orgID,
	}
	signed, err := jwt.NewWithClaims(p.method, claims).SignedString(p.signer)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: signed, JTI: jti, ExpiresAt: exp}, nil
}

// ValidateAccess verifies an access token and returns its claims.
func (p *TokenProvider) ValidateAccess(token string) (*Claims, error) {
	return p.validate(token, KindAccess)
}

// ValidateRefresh verifies a refresh token and returns its claims.
func (p *TokenProvider) ValidateRefresh(token string) (*Claims, error) {
	return p.validate(token, KindRefresh)
}

func (p *TokenProvider) validate(token, kind string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.verifier, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
