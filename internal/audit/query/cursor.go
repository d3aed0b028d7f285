package query

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCursorMismatch is returned when a page token is replayed with a different filter or order.
var ErrCursorMismatch = errors.New("page token does not match the filter or order_by of the request")

// Cursor is the decoded state of an opaque page token: the last row served and the request it belongs to.
type Cursor struct {
	Seq int64 `json:"seq"`
	// CreatedAt of the last row. Zero for listings keyed on seq alone.
	CreatedAt  time.Time `json:"at,omitzero"`
	Desc       bool      `json:"desc,omitempty"`
	FilterHash string    `json:"fh,omitempty"`
	OrderHash  string    `json:"oh,omitempty"`
}

// NewCursor returns the cursor for the page after lastSeq.
func NewCursor(lastSeq int64, order Order, filter string) Cursor {
	return Cursor{
		Seq:        lastSeq,
		Desc:       order.Desc,
		FilterHash: Hash(filter),
		OrderHash:  Hash(order.String()),
	}
}

// WithCreatedAt keys c on (created_at, seq), matching Order.SQL.
func (c Cursor) WithCreatedAt(t time.Time) Cursor {
	c.CreatedAt = t.UTC()
	return c
}

// Encode returns the URL-safe base64 page token for c.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a page token.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, errors.New("empty token")
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode page token: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("unmarshal page token: %w", err)
	}
	if c.Seq <= 0 {
		return Cursor{}, errors.New("page token has no position")
	}
	return c, nil
}

// Validate checks that c was issued for the same filter and order.
func (c Cursor) Validate(order Order, filter string) error {
	if c.FilterHash != Hash(filter) || c.OrderHash != Hash(order.String()) || c.Desc != order.Desc {
		return ErrCursorMismatch
	}
	return nil
}

// Hash is a short stable digest used to bind tokens to their request. Empty input hashes to "".
func Hash(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// Condition returns the keyset condition selecting rows after the cursor.
func (c Cursor) Condition() Condition {
	op := ">"
	if c.Desc {
		op = "<"
	}
	if c.CreatedAt.IsZero() {
		return Condition{Clause: "seq " + op + " ?", Params: []any{c.Seq}}
	}
	return Condition{Clause: "(created_at, seq) " + op + " (?, ?)", Params: []any{c.CreatedAt, c.Seq}}
}
