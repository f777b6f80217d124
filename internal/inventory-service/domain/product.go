// Package domain holds the inventory record looked up by the validation step.
package domain

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

// Product is one row of the inventory table.
type Product struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
}

// Reserve checks that quantity units can be sold and returns the total
// price. Stock is not decremented.
func (p Product) Reserve(quantity int) (decimal.Decimal, error) {
	if p.Stock < quantity {
		return decimal.Zero, apperr.InsufficientStock(
			fmt.Sprintf("Insufficient stock. Available: %d, Requested: %d", p.Stock, quantity))
	}
	return p.Price.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// Validate rejects records that cannot be stored.
func (p Product) Validate() error {
	switch {
	case p.ProductID == "":
		return apperr.Validation("productId is required")
	case p.Price.IsNegative():
		return apperr.Validation(fmt.Sprintf("product %s: price must be >= 0", p.ProductID))
	case !p.Price.Equal(p.Price.Truncate(2)):
		return apperr.Validation(fmt.Sprintf("product %s: price %s has more than 2 decimal places", p.ProductID, p.Price))
	case p.Stock < 0:
		return apperr.Validation(fmt.Sprintf("product %s: stock must be >= 0", p.ProductID))
	}
	return nil
}

// DecodeProducts reads a JSON array of products and validates each one.
func DecodeProducts(r io.Reader) ([]Product, error) {
	var products []Product
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&products); err != nil {
		return nil, apperr.Validation("invalid product file: " + err.Error())
	}
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return products, nil
}
