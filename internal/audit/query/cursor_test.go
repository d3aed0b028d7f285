package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	order := Order{Desc: true}
	c := NewCursor(42, order, `action = "create"`)
	token, err := Encode(c)
	require.NoError(t, err)

	got, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.NoError(t, got.Validate(order, `action = "create"`))
	assert.Equal(t, Condition{Clause: "seq < ?", Params: []any{int64(42)}}, got.Condition())
}

func TestCursor_KeyedOnCreatedAt(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 123000, time.FixedZone("JST", 9*60*60))
	c := NewCursor(42, Order{Desc: true}, "").WithCreatedAt(at)
	token, err := Encode(c)
	require.NoError(t, err)

	got, err := Decode(token)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Equal(t, Condition{Clause: "(created_at, seq) < (?, ?)", Params: []any{at.UTC(), int64(42)}}, got.Condition())

	asc := NewCursor(42, Order{}, "").WithCreatedAt(at)
	assert.Equal(t, "(created_at, seq) > (?, ?)", asc.Condition().Clause)
}

func TestCursor_RejectsChangedRequest(t *testing.T) {
	c := NewCursor(7, Order{Desc: false}, `action = "create"`)
	assert.ErrorIs(t, c.Validate(Order{Desc: false}, `action = "delete"`), ErrCursorMismatch)
	assert.ErrorIs(t, c.Validate(Order{Desc: true}, `action = "create"`), ErrCursorMismatch)
	assert.Equal(t, "seq > ?", c.Condition().Clause)
}

func TestDecode_Invalid(t *testing.T) {
	for _, tok := range []string{"", "!!!", "bm90LWpzb24", "e30"} {
		_, err := Decode(tok)
		assert.Error(t, err, tok)
	}
}

func TestHash(t *testing.T) {
	assert.Equal(t, "", Hash(""))
	assert.Len(t, Hash("x"), 16)
	assert.Equal(t, Hash("x"), Hash("x"))
}
