package entity

import (
	"encoding/json"
	"strings"

	"github.com/jcmexdev/order-saga/internal/order-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

// SubmitOrder is an order submission as received from a client. Quantity is
// kept raw because clients send it either as a number or as a string.
type SubmitOrder struct {
	CustomerID string
	ProductID  string
	Quantity   json.RawMessage
}

// Normalize checks the submission and returns its trimmed ids and the parsed
// quantity.
func (s SubmitOrder) Normalize() (customerID, productID string, quantity int, err error) {
	customerID = strings.TrimSpace(s.CustomerID)
	productID = strings.TrimSpace(s.ProductID)
	switch {
	case customerID == "":
		return "", "", 0, apperr.Validation("Missing required field: customerId")
	case productID == "":
		return "", "", 0, apperr.Validation("Missing required field: productId")
	case len(s.Quantity) == 0:
		return "", "", 0, apperr.Validation("Missing required field: quantity")
	}
	quantity, err = domain.ParseQuantity(s.Quantity)
	if err != nil {
		return "", "", 0, err
	}
	return customerID, productID, quantity, nil
}

// Execution is the latest known state of an order's saga run, with every
// transition that led to it.
type Execution struct {
	Name        string
	Status      string
	CurrentStep string
	Errors      []string
	TraceID     string
	UpdatedAt   string
	Steps       []ExecutionStep
}

// ExecutionStep is one transition of a saga run.
type ExecutionStep struct {
	Status    string
	Step      string
	Errors    []string
	UpdatedAt string
}
