// Package portal decides which portal pages a caller may see and proxies the allowed ones to the frontend.
//
// Each request is resolved to an identity (session cookie or bearer token, then the routing cookie) and fed
// to a Rego policy that answers allow or redirect. Every failure along the way denies.
package portal

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed policy.rego
var defaultPolicy string

const decisionQuery = "data.medilink.portal.decision"

// Input is what the policy sees about a request.
type Input struct {
	Path          string `json:"path"`
	Authenticated bool   `json:"authenticated"`
	PlatformAdmin bool   `json:"platform_admin"`
	HasOrg        bool   `json:"has_org"`
	OrgType       string `json:"org_type"`
	OrgStatus     string `json:"org_status"`
}

// Decision is the policy's answer. Redirect is set only when Allow is false.
type Decision struct {
	Allow    bool   `json:"allow"`
	Redirect string `json:"redirect,omitempty"`
}

var errNoDecision = errors.New("portal policy returned no decision")

// Policy is a compiled portal policy, safe for concurrent use.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles source, which must define data.medilink.portal.decision.
func NewPolicy(ctx context.Context, source string) (*Policy, error) {
	compiler, err := ast.CompileModules(map[string]string{"portal.rego": source})
	if err != nil {
		return nil, fmt.Errorf("compile portal policy: %w", err)
	}
	q, err := rego.New(rego.Query(decisionQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare portal policy: %w", err)
	}
	return &Policy{query: q}, nil
}

// LoadPolicy compiles the policy in file, or the built-in one when file is empty.
func LoadPolicy(ctx context.Context, file string) (*Policy, error) {
	if file == "" {
		return NewPolicy(ctx, defaultPolicy)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read portal policy: %w", err)
	}
	return NewPolicy(ctx, string(b))
}

// Evaluate runs the policy for in.
func (p *Policy) Evaluate(ctx context.Context, in Input) (Decision, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"path":           in.Path,
		"authenticated":  in.Authenticated,
		"platform_admin": in.PlatformAdmin,
		"has_org":        in.HasOrg,
		"org_type":       in.OrgType,
		"org_status":     in.OrgStatus,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("eval portal policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, errNoDecision
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, errNoDecision
	}
	var d Decision
	if d.Allow, ok = obj["allow"].(bool); !ok {
		return Decision{}, errNoDecision
	}
	d.Redirect, _ = obj["redirect"].(string)
	if !d.Allow && d.Redirect == "" {
		return Decision{}, errNoDecision
	}
	return d, nil
}

// HealthCheck evaluates a request whose answer is fixed: an anonymous visit to /admin goes to sign-in.
func (p *Policy) HealthCheck(ctx context.Context) error {
	d, err := p.Evaluate(ctx, Input{Path: "/admin"})
	if err != nil {
		return err
	}
	if d.Allow || d.Redirect != "/sign-in" {
		return fmt.Errorf("portal policy: unexpected decision %+v for anonymous /admin", d)
	}
	return nil
}
