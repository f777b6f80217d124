package gateway

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestCharge_Success(t *testing.T) {
	gw := NewSimulator(0.95, fixedSource(0.1))
	amount := decimal.RequireFromString("20.00")

	first, err := gw.Charge(context.Background(), "o-1", amount)
	require.NoError(t, err)
	second, err := gw.Charge(context.Background(), "o-1", amount)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, first.PaymentStatus)
	assert.True(t, strings.HasPrefix(first.TransactionID, "txn-o-1-"))
	assert.NotEqual(t, first.TransactionID, second.TransactionID)
	assert.True(t, first.Amount.Equal(amount))
	assert.Len(t, strings.TrimPrefix(first.TransactionID, "txn-o-1-"), 12)
}

func TestCharge_Failure(t *testing.T) {
	gw := NewSimulator(0.95, fixedSource(0.99))

	_, err := gw.Charge(context.Background(), "o-1", decimal.NewFromInt(5))
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransientExternal, apperr.KindOf(err))
	assert.Equal(t, "payment gateway error", err.Error())
}

func TestCharge_FailureRate(t *testing.T) {
	const trials = 20000
	gw := NewSimulator(0.9, rand.New(rand.NewPCG(1, 2)))

	failures := 0
	for i := 0; i < trials; i++ {
		if _, err := gw.Charge(context.Background(), "o", decimal.NewFromInt(1)); err != nil {
			failures++
		}
	}
	assert.InDelta(t, 0.1, float64(failures)/trials, 0.01)
}
