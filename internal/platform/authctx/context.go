// Package authctx carries the authenticated caller through request contexts.
package authctx

import "context"

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// Identity is the resolved caller of a request. OrgID is the active organization, empty when the
// user has none. OrgType, OrgStatus and Role describe that organization and the caller's membership.
type Identity struct {
	UserID        string
	SessionID     string
	PlatformAdmin bool
	OrgID         string
	OrgType       string
	OrgStatus     string
	Role          string
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// From returns the identity in ctx and true when an authenticated user is set.
func From(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// GetUserID returns the user id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := From(ctx)
	return id.UserID, ok
}

// GetOrgID returns the active org id from context and true if set; otherwise "", false.
func GetOrgID(ctx context.Context) (string, bool) {
	id, ok := From(ctx)
	return id.OrgID, ok && id.OrgID != ""
}

// GetSessionID returns the session id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := From(ctx)
	return id.SessionID, ok && id.SessionID != ""
}
