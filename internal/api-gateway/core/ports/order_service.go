package ports

import (
	"context"
	"encoding/json"

	"github.com/jcmexdev/order-saga/internal/api-gateway/core/domain/entity"
	"github.com/jcmexdev/order-saga/internal/order-service/domain"
)

// OrderService is what the HTTP layer needs from order ingestion and the
// read side.
type OrderService interface {
	SubmitOrder(ctx context.Context, in entity.SubmitOrder) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	GetExecution(ctx context.Context, orderID string) (entity.Execution, error)
	GetReceipt(ctx context.Context, orderID string) ([]byte, error)
}

// TaskService enqueues tasks for the task worker.
type TaskService interface {
	EnqueueTask(ctx context.Context, taskType string, data json.RawMessage, submittedAt *string) (string, error)
}

// OrderRepository is the slice of the Order Store ingestion uses.
type OrderRepository interface {
	Put(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
}
