package portal

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/cookies"
	"medilink/internal/platform/httpx"
	"medilink/internal/platform/logger"
)

// Identity headers sent to the frontend. Inbound copies are always removed.
const (
	HeaderUser   = "X-Medilink-User"
	HeaderOrg    = "X-Medilink-Org"
	HeaderPortal = "X-Medilink-Portal"
)

const signIn = "/sign-in"

// IdentityResolver resolves the caller of a request.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (authctx.Identity, error)
}

// Evaluator decides a request.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// Gate guards portal pages. Allowed requests go to the frontend proxy, or get 204 when none is configured.
type Gate struct {
	resolver IdentityResolver
	policy   Evaluator
	proxy    http.Handler
	jar      cookies.Jar
	log      *zap.Logger
}

// NewGate returns a gate. An empty upstream disables proxying.
func NewGate(resolver IdentityResolver, policy Evaluator, upstream string, jar cookies.Jar, log *zap.Logger) (*Gate, error) {
	g := &Gate{resolver: resolver, policy: policy, jar: jar, log: logger.OrNop(log)}
	if upstream != "" {
		target, err := url.Parse(upstream)
		if err != nil {
			return nil, err
		}
		g.proxy = newProxy(target)
	}
	return g, nil
}

func newProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			for _, h := range []string{HeaderUser, HeaderOrg, HeaderPortal} {
				pr.Out.Header.Del(h)
			}
			id, _ := authctx.From(pr.In.Context())
			if id.UserID != "" {
				pr.Out.Header.Set(HeaderUser, id.UserID)
			}
			if id.OrgID != "" {
				pr.Out.Header.Set(HeaderOrg, id.OrgID)
			}
			pr.Out.Header.Set(HeaderPortal, PortalOf(id))
		},
	}
}

// PortalOf names the portal an identity belongs to.
func PortalOf(id authctx.Identity) string {
	switch {
	case id.UserID == "":
		return "public"
	case id.PlatformAdmin:
		return "admin"
	case id.OrgType != "":
		return id.OrgType
	}
	return "onboarding"
}

// decide resolves and evaluates r for path.
func (g *Gate) decide(r *http.Request, path string) (authctx.Identity, Decision, error) {
	id, err := g.resolver.Resolve(r.Context(), r)
	if err != nil {
		return authctx.Identity{}, Decision{}, err
	}
	d, err := g.policy.Evaluate(r.Context(), Input{
		Path:          path,
		Authenticated: id.UserID != "",
		PlatformAdmin: id.PlatformAdmin,
		HasOrg:        id.OrgID != "",
		OrgType:       id.OrgType,
		OrgStatus:     id.OrgStatus,
	})
	if err != nil {
		return authctx.Identity{}, Decision{}, err
	}
	return id, d, nil
}

// ServeHTTP gates a page request.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		apperr.Write(w, r, apperr.NotFound("Not found.", "見つかりません。"))
		return
	}
	id, d, err := g.decide(r, r.URL.Path)
	if err != nil {
		g.log.Error("portal decision failed, denying", zap.String("path", r.URL.Path), zap.Error(err))
		http.Redirect(w, r, signInRedirect(r), http.StatusFound)
		return
	}
	if !d.Allow {
		target := safeRedirect(d.Redirect)
		if target == signIn {
			target = signInRedirect(r)
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	if id.UserID != "" && id.OrgID != cookies.Value(r, cookies.Org) {
		g.jar.SetOrg(w, id.OrgID)
	}
	if g.proxy == nil {
		w.Header().Set(HeaderPortal, PortalOf(id))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	g.proxy.ServeHTTP(w, r.WithContext(authctx.WithIdentity(r.Context(), id)))
}

// Routes registers GET /api/portal/resolve.
func (g *Gate) Routes(r chi.Router) {
	r.Get("/api/portal/resolve", g.resolve)
}

func (g *Gate) resolve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" || !strings.HasPrefix(path, "/") {
		apperr.Write(w, r, apperr.Invalid("path must be an absolute path.", "path は / で始まる必要があります。"))
		return
	}
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	id, d, err := g.decide(r, path)
	if err != nil {
		apperr.Write(w, r, apperr.Internal(err))
		return
	}
	if !d.Allow {
		d.Redirect = safeRedirect(d.Redirect)
		if d.Redirect == signIn {
			d.Redirect = signIn + "?redirect=" + url.QueryEscape(r.URL.Query().Get("path"))
		}
	}
	httpx.WriteJSON(w, http.StatusOK, struct {
		Decision
		Portal string `json:"portal"`
		OrgID  string `json:"org_id,omitempty"`
	}{d, PortalOf(id), id.OrgID})
}

// safeRedirect keeps redirects on this site.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "/"
	}
	return target
}

func signInRedirect(r *http.Request) string {
	return signIn + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
}
