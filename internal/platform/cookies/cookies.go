// Package cookies owns the names and attributes of the MediLink browser cookies.
package cookies

import (
	"net/http"
	"time"
)

const (
	// Session holds the access JWT.
	Session = "medilink_session"
	// Refresh holds the refresh JWT; it is only sent to the auth endpoints.
	Refresh = "medilink_refresh"
	// Org is the routing cookie naming the active organization.
	Org = "medilink_org"

	refreshPath = "/api/auth"
	orgMaxAge   = 30 * 24 * time.Hour
)

// Jar writes cookies with the deployment's Secure and Domain attributes.
type Jar struct {
	Secure bool
	Domain string
}

func (j Jar) cookie(name, value, path string, expires time.Time, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   j.Domain,
		Secure:   j.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	}
	if expires.IsZero() {
		c.MaxAge = -1
	} else {
		c.Expires = expires.UTC()
		c.MaxAge = int(time.Until(expires).Seconds())
		if c.MaxAge <= 0 {
			c.MaxAge = -1
		}
	}
	return c
}

// SetSession writes the access and refresh cookies.
func (j Jar) SetSession(w http.ResponseWriter, access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	http.SetCookie(w, j.cookie(Session, access, "/", accessExp, true))
	http.SetCookie(w, j.cookie(Refresh, refresh, refreshPath, refreshExp, true))
}

// SetOrg writes the routing cookie. An empty orgID clears it.
func (j Jar) SetOrg(w http.ResponseWriter, orgID string) {
	if orgID == "" {
		http.SetCookie(w, j.cookie(Org, "", "/", time.Time{}, false))
		return
	}
	http.SetCookie(w, j.cookie(Org, orgID, "/", time.Now().Add(orgMaxAge), false))
}

// Clear expires every MediLink cookie.
func (j Jar) Clear(w http.ResponseWriter) {
	http.SetCookie(w, j.cookie(Session, "", "/", time.Time{}, true))
	http.SetCookie(w, j.cookie(Refresh, "", refreshPath, time.Time{}, true))
	http.SetCookie(w, j.cookie(Org, "", "/", time.Time{}, false))
}

// Value returns the named cookie's value, or "".
func Value(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
