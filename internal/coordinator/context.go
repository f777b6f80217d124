package coordinator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-saga/internal/order-service/domain"
)

// ExecutionContext is the record threaded through one saga run. The JSON
// field names are the step I/O contract and must not change.
type ExecutionContext struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`

	Validation *Validation `json:"validation,omitempty"`
	Payment    *Payment    `json:"payment,omitempty"`
	Receipt    *Receipt    `json:"receipt,omitempty"`
}

// Validation is written by ValidateOrder. On an invalid order only Valid and
// Error are set.
type Validation struct {
	Valid      bool             `json:"valid"`
	Product    string           `json:"product,omitempty"`
	UnitPrice  *decimal.Decimal `json:"unitPrice,omitempty"`
	TotalPrice *decimal.Decimal `json:"totalPrice,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Payment is written by ProcessPayment.
type Payment struct {
	PaymentStatus string          `json:"paymentStatus"`
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
}

// Receipt is written by GenerateReceipt.
type Receipt struct {
	ReceiptURL string `json:"receiptUrl"`
}

// NewExecutionContext seeds a run from the submitted order.
func NewExecutionContext(o domain.Order) ExecutionContext {
	return ExecutionContext{
		OrderID:    o.OrderID,
		CustomerID: o.CustomerID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
	}
}

// StepOutput carries the one section a step adds to the context.
type StepOutput struct {
	Validation *Validation
	Payment    *Payment
	Receipt    *Receipt
}

func (o StepOutput) written() []string {
	var out []string
	if o.Validation != nil {
		out = append(out, "validation")
	}
	if o.Payment != nil {
		out = append(out, "payment")
	}
	if o.Receipt != nil {
		out = append(out, "receipt")
	}
	return out
}

// merge adds out to the context. A step may only write the section it
// declares and no section is ever written twice.
func (ec *ExecutionContext) merge(step Step, out StepOutput) error {
	for _, section := range out.written() {
		if section != step.Writes {
			return fmt.Errorf("step %s wrote %q but declares %q", step.Name, section, step.Writes)
		}
	}
	switch {
	case out.Validation != nil:
		if ec.Validation != nil {
			return fmt.Errorf("step %s: validation already written", step.Name)
		}
		ec.Validation = out.Validation
	case out.Payment != nil:
		if ec.Payment != nil {
			return fmt.Errorf("step %s: payment already written", step.Name)
		}
		ec.Payment = out.Payment
	case out.Receipt != nil:
		if ec.Receipt != nil {
			return fmt.Errorf("step %s: receipt already written", step.Name)
		}
		ec.Receipt = out.Receipt
	}
	return nil
}

// present tells whether a field path is available for a later step to read.
var present = map[string]func(ExecutionContext) bool{
	"orderId":    func(ec ExecutionContext) bool { return ec.OrderID != "" },
	"customerId": func(ec ExecutionContext) bool { return ec.CustomerID != "" },
	"productId":  func(ec ExecutionContext) bool { return ec.ProductID != "" },
	"quantity":   func(ec ExecutionContext) bool { return ec.Quantity > 0 },
	"validation.valid": func(ec ExecutionContext) bool {
		return ec.Validation != nil && ec.Validation.Valid
	},
	"validation.product": func(ec ExecutionContext) bool {
		return ec.Validation != nil && ec.Validation.Product != ""
	},
	"validation.totalPrice": func(ec ExecutionContext) bool {
		return ec.Validation != nil && ec.Validation.TotalPrice != nil
	},
	"payment.transactionId": func(ec ExecutionContext) bool {
		return ec.Payment != nil && ec.Payment.TransactionID != ""
	},
	"receipt.receiptUrl": func(ec ExecutionContext) bool {
		return ec.Receipt != nil && ec.Receipt.ReceiptURL != ""
	},
}

// missing returns the first field in reads that is not yet available.
func (ec ExecutionContext) missing(reads []string) (string, bool) {
	for _, f := range reads {
		check, ok := present[f]
		if !ok || !check(ec) {
			return f, true
		}
	}
	return "", false
}
