package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	invdomain "github.com/jcmexdev/order-saga/internal/inventory-service/domain"
	"github.com/jcmexdev/order-saga/internal/payment-service/gateway"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/blob"
)

// Step is a static descriptor of one saga stage: the state the saga is in
// while it runs, the context fields it reads and the section it writes.
type Step struct {
	Name   string
	State  State
	Reads  []string
	Writes string
	Run    func(ctx context.Context, in ExecutionContext) (StepOutput, error)
}

// ProductCatalog looks up inventory records.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (invdomain.Product, error)
}

// PaymentGateway charges the customer.
type PaymentGateway interface {
	Charge(ctx context.Context, orderID string, amount decimal.Decimal) (gateway.Charge, error)
}

// OrderFinalizer applies the final conditional update to the order.
type OrderFinalizer interface {
	Complete(ctx context.Context, orderID string, total decimal.Decimal, receiptURL string) error
}

// Steps holds the collaborators of the four order saga steps.
type Steps struct {
	Catalog  ProductCatalog
	Payments PaymentGateway
	Receipts blob.Store
	Orders   OrderFinalizer
	Now      func() time.Time
}

// Sequence is the fixed order of the saga.
func (s Steps) Sequence() []Step {
	return []Step{
		{
			Name:   "ValidateOrder",
			State:  StateValidating,
			Reads:  []string{"productId", "quantity"},
			Writes: "validation",
			Run:    s.ValidateOrder,
		},
		{
			Name:   "ProcessPayment",
			State:  StatePaying,
			Reads:  []string{"orderId", "validation.valid", "validation.totalPrice"},
			Writes: "payment",
			Run:    s.ProcessPayment,
		},
		{
			Name:   "GenerateReceipt",
			State:  StateGeneratingReceipt,
			Reads:  []string{"orderId", "customerId", "quantity", "validation.product", "validation.totalPrice", "payment.transactionId"},
			Writes: "receipt",
			Run:    s.GenerateReceipt,
		},
		{
			Name:   "UpdateOrderStatus",
			State:  StateUpdatingStatus,
			Reads:  []string{"orderId", "receipt.receiptUrl", "validation.totalPrice"},
			Writes: "",
			Run:    s.UpdateOrderStatus,
		},
	}
}

// ValidateOrder checks the product exists and has enough stock, and prices
// the order. An invalid order still writes validation (valid=false, error)
// alongside the returned error.
func (s Steps) ValidateOrder(ctx context.Context, in ExecutionContext) (StepOutput, error) {
	product, err := s.Catalog.GetProduct(ctx, in.ProductID)
	if err != nil {
		if apperr.HasKind(err, apperr.KindNotFound) {
			return StepOutput{Validation: &Validation{Valid: false, Error: "Product not found"}}, err
		}
		return StepOutput{}, err
	}

	total, err := product.Reserve(in.Quantity)
	if err != nil {
		return StepOutput{Validation: &Validation{Valid: false, Error: err.Error()}}, err
	}

	unit := product.Price
	return StepOutput{Validation: &Validation{
		Valid:      true,
		Product:    product.Name,
		UnitPrice:  &unit,
		TotalPrice: &total,
	}}, nil
}

// ProcessPayment charges validation.totalPrice. A declined charge is
// returned as is; retrying is up to the queue.
func (s Steps) ProcessPayment(ctx context.Context, in ExecutionContext) (StepOutput, error) {
	charge, err := s.Payments.Charge(ctx, in.OrderID, *in.Validation.TotalPrice)
	if err != nil {
		return StepOutput{}, err
	}
	return StepOutput{Payment: &Payment{
		PaymentStatus: charge.PaymentStatus,
		TransactionID: charge.TransactionID,
		Amount:        charge.Amount,
	}}, nil
}

// ReceiptDocument is the stored receipt artifact.
type ReceiptDocument struct {
	OrderID       string `json:"orderId"`
	CustomerID    string `json:"customerId"`
	Product       string `json:"product"`
	Quantity      int    `json:"quantity"`
	TotalPrice    string `json:"totalPrice"`
	TransactionID string `json:"transactionId"`
	Timestamp     string `json:"timestamp"`
}

// ReceiptKey is where the receipt of orderID is stored.
func ReceiptKey(orderID string) string {
	return "receipts/" + orderID + ".json"
}

// GenerateReceipt writes the receipt artifact and returns its URL.
func (s Steps) GenerateReceipt(ctx context.Context, in ExecutionContext) (StepOutput, error) {
	doc := ReceiptDocument{
		OrderID:       in.OrderID,
		CustomerID:    in.CustomerID,
		Product:       in.Validation.Product,
		Quantity:      in.Quantity,
		TotalPrice:    in.Validation.TotalPrice.StringFixed(2),
		TransactionID: in.Payment.TransactionID,
		Timestamp:     s.now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return StepOutput{}, err
	}

	url, err := s.Receipts.Put(ctx, ReceiptKey(in.OrderID), body, "application/json")
	if err != nil {
		return StepOutput{}, err
	}
	return StepOutput{Receipt: &Receipt{ReceiptURL: url}}, nil
}

// UpdateOrderStatus completes the order with the exact validated total.
func (s Steps) UpdateOrderStatus(ctx context.Context, in ExecutionContext) (StepOutput, error) {
	err := s.Orders.Complete(ctx, in.OrderID, *in.Validation.TotalPrice, in.Receipt.ReceiptURL)
	return StepOutput{}, err
}

func (s Steps) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
