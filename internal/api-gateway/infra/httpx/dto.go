package httpx

import (
	"encoding/json"
	"time"
)

type CreateOrderRequest struct {
	CustomerID string          `json:"customerId"`
	ProductID  string          `json:"productId"`
	Quantity   json.RawMessage `json:"quantity"`
}

type CreateOrderResponse struct {
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

// OrderResponse renders totalPrice with exactly two decimals so the value a
// client reads is the value that was stored.
type OrderResponse struct {
	OrderID    string    `json:"orderId"`
	CustomerID string    `json:"customerId"`
	ProductID  string    `json:"productId"`
	Quantity   int       `json:"quantity"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	TotalPrice string    `json:"totalPrice,omitempty"`
	ReceiptURL string    `json:"receiptUrl,omitempty"`
}

type ListOrdersResponse struct {
	Count  int             `json:"count"`
	Orders []OrderResponse `json:"orders"`
}

type ExecutionResponse struct {
	ExecutionName string                  `json:"executionName"`
	Status        string                  `json:"status"`
	CurrentStep   string                  `json:"currentStep,omitempty"`
	Errors        []string                `json:"errors"`
	TraceID       string                  `json:"traceId,omitempty"`
	UpdatedAt     string                  `json:"updatedAt"`
	Steps         []ExecutionStepResponse `json:"steps"`
}

type ExecutionStepResponse struct {
	Status    string   `json:"status"`
	Step      string   `json:"step,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	UpdatedAt string   `json:"updatedAt"`
}

type EnqueueTaskRequest struct {
	TaskType    string          `json:"task_type"`
	Data        json.RawMessage `json:"data"`
	SubmittedAt *string         `json:"submitted_at"`
}

type EnqueueTaskResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
	TaskType  string `json:"task_type"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
