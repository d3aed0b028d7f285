// Package query turns audit list requests (AIP-160 filter, order_by, page token) into SQL conditions.
package query

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Condition is a SQL WHERE fragment with "?" placeholders and their values in order.
type Condition struct {
	Clause string
	Params []any
}

// Empty reports whether c constrains nothing.
func (c Condition) Empty() bool { return c.Clause == "" }

// And joins conditions, skipping empty ones.
func And(conds ...Condition) Condition {
	var clauses []string
	var params []any
	for _, c := range conds {
		if c.Empty() {
			continue
		}
		clauses = append(clauses, c.Clause)
		params = append(params, c.Params...)
	}
	switch len(clauses) {
	case 0:
		return Condition{}
	case 1:
		return Condition{Clause: clauses[0], Params: params}
	}
	return Condition{Clause: "(" + strings.Join(clauses, " AND ") + ")", Params: params}
}

// columns maps filter fields to audit_logs columns. Only these fields are filterable.
var columns = map[string]string{
	"org_id":      "org_id",
	"user_id":     "user_id",
	"action":      "action",
	"resource":    "resource",
	"resource_id": "resource_id",
	"ip":          "ip",
	"created_at":  "created_at",
}

// Declarations returns the filter declarations for audit log fields.
func Declarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("org_id", filtering.TypeString),
		filtering.DeclareIdent("user_id", filtering.TypeString),
		filtering.DeclareIdent("action", filtering.TypeString),
		filtering.DeclareIdent("resource", filtering.TypeString),
		filtering.DeclareIdent("resource_id", filtering.TypeString),
		filtering.DeclareIdent("ip", filtering.TypeString),
		filtering.DeclareIdent("created_at", filtering.TypeTimestamp),
	)
}

// ParseFilter parses and type-checks an AIP-160 filter over audit fields.
// An empty filter yields an empty condition.
func ParseFilter(filter string) (Condition, error) {
	if strings.TrimSpace(filter) == "" {
		return Condition{}, nil
	}
	decls, err := Declarations()
	if err != nil {
		return Condition{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filter, decls)
	if err != nil {
		return Condition{}, fmt.Errorf("parse filter: %w", err)
	}
	return translate(parsed.CheckedExpr.GetExpr())
}

func translate(e *expr.Expr) (Condition, error) {
	if e == nil {
		return Condition{}, nil
	}
	call, ok := e.GetExprKind().(*expr.Expr_CallExpr)
	if !ok {
		return Condition{}, fmt.Errorf("unsupported expression type: %T", e.GetExprKind())
	}
	fn := call.CallExpr.GetFunction()
	args := call.CallExpr.GetArgs()
	switch fn {
	case filtering.FunctionAnd, "_&&_":
		return join(args, "AND")
	case filtering.FunctionOr, "_||_":
		return join(args, "OR")
	case filtering.FunctionNot, "!_":
		if len(args) != 1 {
			return Condition{}, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := translate(args[0])
		if err != nil {
			return Condition{}, err
		}
		return Condition{Clause: "NOT " + inner.Clause, Params: inner.Params}, nil
	case filtering.FunctionEquals, filtering.FunctionNotEquals,
		filtering.FunctionLessThan, filtering.FunctionLessEquals,
		filtering.FunctionGreaterThan, filtering.FunctionGreaterEquals:
		return comparison(args, fn)
	}
	return Condition{}, fmt.Errorf("unsupported function: %s", fn)
}

func join(args []*expr.Expr, op string) (Condition, error) {
	if len(args) < 2 {
		return Condition{}, fmt.Errorf("%s requires at least 2 arguments", op)
	}
	parts := make([]string, 0, len(args))
	var params []any
	for _, a := range args {
		c, err := translate(a)
		if err != nil {
			return Condition{}, err
		}
		parts = append(parts, c.Clause)
		params = append(params, c.Params...)
	}
	return Condition{Clause: "(" + strings.Join(parts, " "+op+" ") + ")", Params: params}, nil
}

func comparison(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	ident, ok := args[0].GetExprKind().(*expr.Expr_IdentExpr)
	if !ok {
		return Condition{}, fmt.Errorf("left side of %s must be a field", op)
	}
	field := ident.IdentExpr.GetName()
	column, ok := columns[field]
	if !ok {
		return Condition{}, fmt.Errorf("unknown field: %s", field)
	}
	value, err := literal(args[1])
	if err != nil {
		return Condition{}, err
	}
	if s, ok := value.(string); ok && field == "created_at" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Condition{}, fmt.Errorf("invalid timestamp format: %s", s)
		}
		value = t.UTC()
	}
	if field == "user_id" {
		// stored as NULL for system events, which compare like an empty user_id
		switch {
		case value == "" && op == filtering.FunctionEquals:
			return Condition{Clause: "user_id IS NULL"}, nil
		case value == "" && op == filtering.FunctionNotEquals:
			return Condition{Clause: "user_id IS NOT NULL"}, nil
		case op == filtering.FunctionNotEquals:
			return Condition{Clause: "(user_id IS NULL OR user_id != ?)", Params: []any{value}}, nil
		default:
			// never NULL, so NOT around it keeps system events
			return Condition{Clause: fmt.Sprintf("(user_id IS NOT NULL AND user_id %s ?)", op), Params: []any{value}}, nil
		}
	}
	return Condition{Clause: fmt.Sprintf("%s %s ?", column, op), Params: []any{value}}, nil
}

func literal(e *expr.Expr) (any, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_ConstExpr:
		if s, ok := kind.ConstExpr.GetConstantKind().(*expr.Constant_StringValue); ok {
			return s.StringValue, nil
		}
		return nil, fmt.Errorf("only string values are supported")
	case *expr.Expr_CallExpr:
		if kind.CallExpr.GetFunction() == filtering.FunctionTimestamp && len(kind.CallExpr.GetArgs()) == 1 {
			return timestampArg(kind.CallExpr.GetArgs()[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.GetFunction())
	}
	return nil, fmt.Errorf("expected constant or timestamp, got %T", e.GetExprKind())
}

func timestampArg(e *expr.Expr) (time.Time, error) {
	c, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a constant string")
	}
	s, ok := c.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339Nano, s.StringValue)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", s.StringValue)
	}
	return t.UTC(), nil
}

// Rebind rewrites "?" placeholders as Postgres $n, numbering from 1.
func Rebind(clause string) string {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
