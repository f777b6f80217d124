// Package gateway simulates the external payment provider charged by the
// order saga. A charge succeeds with a configured probability; failures are
// reported as transient external errors and never retried here.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

const StatusCompleted = "completed"

// Charge is the gateway's receipt for a captured payment.
type Charge struct {
	PaymentStatus string
	TransactionID string
	Amount        decimal.Decimal
}

// Source yields uniform floats in [0,1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Simulator is an in-process gateway. It is safe for concurrent use.
type Simulator struct {
	mu          sync.Mutex // guards rnd
	rnd         Source
	successRate float64
}

// NewSimulator returns a gateway that succeeds with probability successRate.
// A nil src uses the global math/rand/v2 generator.
func NewSimulator(successRate float64, src Source) *Simulator {
	if src == nil {
		src = globalSource{}
	}
	return &Simulator{rnd: src, successRate: successRate}
}

// Charge captures amount for orderID. The transaction id is unique per call.
func (s *Simulator) Charge(ctx context.Context, orderID string, amount decimal.Decimal) (Charge, error) {
	slog.DebugContext(ctx, "processing charge", "order_id", orderID, "amount", amount.StringFixed(2))

	if !s.approve() {
		slog.WarnContext(ctx, "payment gateway declined", "order_id", orderID)
		return Charge{}, apperr.TransientExternal("payment gateway error", nil)
	}
	return Charge{
		PaymentStatus: StatusCompleted,
		TransactionID: newTransactionID(orderID),
		Amount:        amount,
	}, nil
}

func (s *Simulator) approve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64() < s.successRate
}

func newTransactionID(orderID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("txn-%s-%s", orderID, suffix)
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }
