package cookies

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJar_SetSession(t *testing.T) {
	rec := httptest.NewRecorder()
	Jar{Secure: true, Domain: "medilink.example"}.SetSession(rec, "acc", time.Now().Add(15*time.Minute), "ref", time.Now().Add(time.Hour))

	got := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		got[c.Name] = c
	}
	s := got[Session]
	if s == nil || s.Value != "acc" || !s.HttpOnly || !s.Secure || s.SameSite != http.SameSiteLaxMode || s.Path != "/" {
		t.Fatalf("session cookie = %+v", s)
	}
	r := got[Refresh]
	if r == nil || r.Value != "ref" || r.Path != "/api/auth" || !r.HttpOnly {
		t.Fatalf("refresh cookie = %+v", r)
	}
	if s.MaxAge <= 0 || s.MaxAge > 15*60 {
		t.Errorf("session MaxAge = %d", s.MaxAge)
	}
}

func TestJar_SetOrgAndClear(t *testing.T) {
	rec := httptest.NewRecorder()
	Jar{}.SetOrg(rec, "org-1")
	c := rec.Result().Cookies()[0]
	if c.Name != Org || c.Value != "org-1" || c.HttpOnly {
		t.Fatalf("org cookie = %+v", c)
	}

	rec = httptest.NewRecorder()
	Jar{}.Clear(rec)
	cs := rec.Result().Cookies()
	if len(cs) != 3 {
		t.Fatalf("Clear wrote %d cookies, want 3", len(cs))
	}
	for _, c := range cs {
		if c.MaxAge != -1 {
			t.Errorf("%s MaxAge = %d, want -1", c.Name, c.MaxAge)
		}
	}
}

func TestValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: Org, Value: "org-7"})
	if got := Value(req, Org); got != "org-7" {
		t.Errorf("Value = %q", got)
	}
	if got := Value(req, Session); got != "" {
		t.Errorf("missing cookie Value = %q", got)
	}
}
