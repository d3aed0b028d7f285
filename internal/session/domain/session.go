package domain

import "time"

// Session is a signed-in browser or API client. The refresh token bound to it rotates on every refresh.
type Session struct {
	ID               string
	UserID           string
	OrgID            string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	LastSeenAt       *time.Time
	IPAddress        string
	RefreshJti       string
	RefreshTokenHash string
	CreatedAt        time.Time
}

// Active reports whether the session can still be used at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
