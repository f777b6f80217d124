package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

func TestNewOrder(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := NewOrder("c1", "p1", 2, now)
	b := NewOrder("c1", "p1", 2, now)

	assert.NotEmpty(t, a.OrderID)
	assert.NotEqual(t, a.OrderID, b.OrderID)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, now, a.CreatedAt)
	assert.Nil(t, a.TotalPrice)
	assert.False(t, a.IsCompleted())
}

func TestOrder_SubmissionJSON(t *testing.T) {
	o := NewOrder("c1", "p1", 2, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	raw, err := json.Marshal(o)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.ElementsMatch(t,
		[]string{"orderId", "customerId", "productId", "quantity", "status", "createdAt"},
		keys(fields))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestParseQuantity(t *testing.T) {
	valid := map[string]int{`2`: 2, `"3"`: 3, `" 4 "`: 4, `5.0`: 5}
	for in, want := range valid {
		got, err := ParseQuantity(json.RawMessage(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{``, `null`, `0`, `-1`, `1.5`, `"abc"`, `true`, `"1e99"`} {
		_, err := ParseQuantity(json.RawMessage(in))
		require.Error(t, err, in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), in)
	}
}
