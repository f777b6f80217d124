// Package domain holds the Order entity as it is stored in the Order Store
// and carried on the submission queue.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
)

// Order is the persisted order record. TotalPrice and ReceiptURL stay empty
// until the saga's final step completes the order.
type Order struct {
	OrderID    string           `json:"orderId"`
	CustomerID string           `json:"customerId"`
	ProductID  string           `json:"productId"`
	Quantity   int              `json:"quantity"`
	Status     OrderStatus      `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	TotalPrice *decimal.Decimal `json:"totalPrice,omitempty"`
	ReceiptURL string           `json:"receiptUrl,omitempty"`
}

// NewOrder returns a pending order with a fresh id.
func NewOrder(customerID, productID string, quantity int, now time.Time) Order {
	return Order{
		OrderID:    uuid.NewString(),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		Status:     StatusPending,
		CreatedAt:  now.UTC(),
	}
}

// IsCompleted reports whether the final step has run for this order.
func (o Order) IsCompleted() bool { return o.Status == StatusCompleted }

// ParseQuantity accepts a JSON number or a numeric string and requires a
// positive integer.
func ParseQuantity(raw json.RawMessage) (int, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, apperr.Validation("quantity is required")
	}

	var text string
	if strings.HasPrefix(trimmed, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, apperr.Validation("quantity must be a positive integer")
		}
		text = strings.TrimSpace(text)
	} else {
		text = trimmed
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return 0, apperr.Validation(fmt.Sprintf("quantity must be a positive integer, got %s", trimmed))
	}
	return int(f), nil
}
