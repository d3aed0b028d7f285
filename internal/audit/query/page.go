package query

import (
	"fmt"
	"strings"
)

// Page size limits for audit listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ClampPageSize applies the default and the maximum.
func ClampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// Order is a validated order_by. Audit logs only sort by creation.
type Order struct {
	Desc bool
}

// String returns the canonical order_by.
func (o Order) String() string {
	if o.Desc {
		return "created_at desc"
	}
	return "created_at asc"
}

// SQL returns the ORDER BY expression. seq breaks ties between rows created in the same instant.
func (o Order) SQL() string {
	if o.Desc {
		return "created_at DESC, seq DESC"
	}
	return "created_at ASC, seq ASC"
}

// ParseOrder accepts "", "created_at", "created_at asc" and "created_at desc" (any case, extra spaces).
// Empty means newest first.
func ParseOrder(orderBy string) (Order, error) {
	fields := strings.Fields(strings.ToLower(orderBy))
	switch {
	case len(fields) == 0:
		return Order{Desc: true}, nil
	case fields[0] != "created_at" || len(fields) > 2:
		return Order{}, fmt.Errorf("invalid order_by: %s", orderBy)
	case len(fields) == 1 || fields[1] == "asc":
		return Order{Desc: false}, nil
	case fields[1] == "desc":
		return Order{Desc: true}, nil
	}
	return Order{}, fmt.Errorf("invalid order_by: %s", orderBy)
}

// Request is a parsed, validated audit list request.
type Request struct {
	Filter   string
	Where    Condition
	Order    Order
	PageSize int
	After    *Cursor
}

// Parse validates filter, order_by, page size and page token together.
func Parse(filter, orderBy string, pageSize int, pageToken string) (Request, error) {
	where, err := ParseFilter(filter)
	if err != nil {
		return Request{}, err
	}
	order, err := ParseOrder(orderBy)
	if err != nil {
		return Request{}, err
	}
	req := Request{Filter: filter, Where: where, Order: order, PageSize: ClampPageSize(pageSize)}
	if pageToken != "" {
		c, err := Decode(pageToken)
		if err != nil {
			return Request{}, err
		}
		if err := c.Validate(order, filter); err != nil {
			return Request{}, err
		}
		req.After = &c
	}
	return req, nil
}
