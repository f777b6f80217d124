package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jcmexdev/order-saga/internal/api-gateway/core/domain/entity"
	"github.com/jcmexdev/order-saga/internal/api-gateway/core/ports"
	"github.com/jcmexdev/order-saga/internal/coordinator"
	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/order-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/blob"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

// Ensure orderService implements the port at compile time.
var _ ports.OrderService = (*orderService)(nil)

type orderService struct {
	orders     ports.OrderRepository
	submission queue.Sender
	executions sagalog.Repository
	receipts   blob.Store
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// NewOrderService wires ingestion to the Order Store and the submission
// queue. executions and receipts back the read side.
func NewOrderService(
	orders ports.OrderRepository,
	submission queue.Sender,
	executions sagalog.Repository,
	receipts blob.Store,
	metrics *telemetry.Metrics,
) ports.OrderService {
	return &orderService{
		orders:     orders,
		submission: submission,
		executions: executions,
		receipts:   receipts,
		metrics:    metrics,
		now:        time.Now,
	}
}

// SubmitOrder stores a pending order and enqueues it for the saga. A failed
// enqueue leaves the pending record in place and is reported to the caller.
func (s *orderService) SubmitOrder(ctx context.Context, in entity.SubmitOrder) (domain.Order, error) {
	customerID, productID, quantity, err := in.Normalize()
	if err != nil {
		s.metrics.OrderSubmitted("rejected")
		return domain.Order{}, err
	}

	order := domain.NewOrder(customerID, productID, quantity, s.now())
	if err := s.orders.Put(ctx, order); err != nil {
		s.metrics.OrderSubmitted("failed")
		return domain.Order{}, err
	}

	body, err := json.Marshal(order)
	if err != nil {
		s.metrics.OrderSubmitted("failed")
		return domain.Order{}, err
	}
	var attrs map[string]string
	if id := interceptors.RequestID(ctx); id != "" {
		attrs = map[string]string{constants.AttrRequestID: id}
	}
	if _, err := s.submission.Send(ctx, body, attrs); err != nil {
		s.metrics.OrderSubmitted("failed")
		slog.ErrorContext(ctx, "order stored but not enqueued", "order_id", order.OrderID, "error", err)
		return domain.Order{}, err
	}

	s.metrics.OrderSubmitted("accepted")
	slog.InfoContext(ctx, "order submitted", "order_id", order.OrderID, "customer_id", customerID)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

func (s *orderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.orders.List(ctx)
}

// GetExecution returns the newest saga log entry of the order's execution
// and the transitions recorded so far.
func (s *orderService) GetExecution(ctx context.Context, orderID string) (entity.Execution, error) {
	name := coordinator.ExecutionName(orderID)
	latest, err := s.executions.GetLatest(ctx, name)
	if apperr.HasKind(err, apperr.KindNotFound) {
		return entity.Execution{}, apperr.NotFound("Execution not found")
	}
	if err != nil {
		return entity.Execution{}, err
	}
	history, err := s.executions.History(ctx, name)
	if err != nil {
		return entity.Execution{}, err
	}

	steps := make([]entity.ExecutionStep, 0, len(history))
	for _, e := range history {
		steps = append(steps, entity.ExecutionStep{
			Status:    string(e.Status),
			Step:      e.CurrentStep,
			Errors:    e.Errors(),
			UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return entity.Execution{
		Name:        latest.SagaID,
		Status:      string(latest.Status),
		CurrentStep: latest.CurrentStep,
		Errors:      latest.Errors(),
		TraceID:     latest.TraceID,
		UpdatedAt:   latest.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Steps:       steps,
	}, nil
}

func (s *orderService) GetReceipt(ctx context.Context, orderID string) ([]byte, error) {
	body, err := s.receipts.Get(ctx, coordinator.ReceiptKey(orderID))
	if apperr.HasKind(err, apperr.KindNotFound) {
		return nil, apperr.NotFound("Receipt not found")
	}
	return body, err
}
