package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jcmexdev/order-saga/internal/order-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
)

// ExecutionName is the deterministic saga name for an order. Reusing it on
// redelivery is what makes the trigger idempotent.
func ExecutionName(orderID string) string {
	return "order-" + orderID
}

// Trigger consumes order submission messages and starts one saga per order.
type Trigger struct {
	saga *Orchestrator
}

func NewTrigger(saga *Orchestrator) *Trigger {
	return &Trigger{saga: saga}
}

// OnOrderSubmitted starts the saga for one submission message. A duplicate
// delivery and a saga that ran and failed both return nil. An unreadable
// message, an unavailable registry and a run interrupted by a store failure
// or cancellation return an error, so the queue redelivers and the next
// delivery resumes the run.
func (t *Trigger) OnOrderSubmitted(ctx context.Context, msg queue.Message) error {
	var order domain.Order
	if err := json.Unmarshal(msg.Body, &order); err != nil {
		return apperr.UnrecoverableTask("order message is not valid JSON: " + err.Error())
	}
	if order.OrderID == "" {
		return apperr.UnrecoverableTask("order message has no orderId")
	}

	name := ExecutionName(order.OrderID)
	if requestID := msg.Attributes[constants.AttrRequestID]; requestID != "" {
		ctx = interceptors.WithRequestID(ctx, requestID)
	}

	outcome, err := t.saga.Start(ctx, name, NewExecutionContext(order))
	switch {
	case errors.Is(err, ErrExecutionExists):
		slog.InfoContext(ctx, "duplicate delivery ignored",
			"saga", name, "message_id", msg.MessageID, "receive_count", msg.ReceiveCount)
		return nil
	case err != nil:
		return err
	}

	if !outcome.Succeeded() {
		slog.WarnContext(ctx, "order left pending after failed saga",
			"order_id", order.OrderID, "failed_step", outcome.FailedStep, "error", outcome.Err)
	}
	return nil
}

// HandleBatch processes a batch of submissions independently and reports
// the failed ones.
func (t *Trigger) HandleBatch(concurrency int) queue.BatchHandler {
	return queue.HandleEach(t.OnOrderSubmitted, concurrency)
}
