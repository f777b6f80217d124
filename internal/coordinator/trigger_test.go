package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/order-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
)

func submission(t *testing.T, o domain.Order) queue.Message {
	t.Helper()
	body, err := json.Marshal(o)
	require.NoError(t, err)
	return queue.Message{ID: "1-" + o.OrderID, MessageID: "m-" + o.OrderID, Body: body, ReceiveCount: 1}
}

type unavailableRegistry struct{ sagalog.Repository }

func (unavailableRegistry) StartExecution(context.Context, *sagalog.SagaLog) (bool, error) {
	return false, apperr.Persistence("sagalog: register", errors.New("connection refused"))
}

func TestTrigger_DuplicateDeliveryStartsOneExecution(t *testing.T) {
	order := pendingOrder("o-10", "p1", 1)
	h := newHarness(t, fixedSource(0.1), order)
	trigger := NewTrigger(h.saga)
	msg := submission(t, order)

	require.NoError(t, trigger.OnOrderSubmitted(context.Background(), msg))
	msg.ReceiveCount = 2
	require.NoError(t, trigger.OnOrderSubmitted(context.Background(), msg))

	assert.Equal(t, 1, h.log.Executions())
	assert.Equal(t, 1, h.gw.Captured())
	assert.Equal(t, domain.StatusCompleted, h.orders.get("o-10").Status)
}

func TestTrigger_FailedSagaIsNotRedelivered(t *testing.T) {
	order := pendingOrder("o-11", "p1", 1)
	h := newHarness(t, fixedSource(0.999), order)

	err := NewTrigger(h.saga).OnOrderSubmitted(context.Background(), submission(t, order))
	assert.NoError(t, err)

	latest, err := h.log.GetLatest(context.Background(), ExecutionName("o-11"))
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusFailed, latest.Status)
}

func TestTrigger_PoisonMessage(t *testing.T) {
	h := newHarness(t, fixedSource(0.1))
	trigger := NewTrigger(h.saga)

	err := trigger.OnOrderSubmitted(context.Background(), queue.Message{ID: "1-0", Body: []byte("{not json")})
	assert.Equal(t, apperr.KindUnrecoverableTask, apperr.KindOf(err))

	err = trigger.OnOrderSubmitted(context.Background(), queue.Message{ID: "2-0", Body: []byte(`{"customerId":"c1"}`)})
	assert.Equal(t, apperr.KindUnrecoverableTask, apperr.KindOf(err))
	assert.Zero(t, h.log.Executions())
}

func TestTrigger_RegistryFailurePropagates(t *testing.T) {
	order := pendingOrder("o-12", "p1", 1)
	h := newHarness(t, fixedSource(0.1), order)
	saga := NewOrchestrator(h.steps.Sequence(), unavailableRegistry{}, nil)

	err := NewTrigger(saga).OnOrderSubmitted(context.Background(), submission(t, order))
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
	assert.Zero(t, h.gw.Captured())
}

func TestTrigger_ConcurrentBatchKeepsOrdersApart(t *testing.T) {
	const n = 25
	var orders []domain.Order
	for i := 0; i < n; i++ {
		orders = append(orders, pendingOrder(fmt.Sprintf("o-%02d", i), "p2", i+1))
	}
	h := newHarness(t, fixedSource(0.1), orders...)
	ctx := context.Background()

	msgs := make([]queue.Message, 0, n+1)
	for _, o := range orders {
		msgs = append(msgs, submission(t, o))
	}
	dup := submission(t, orders[3])
	dup.ID = "99-0"
	msgs = append(msgs, dup)

	failed := NewTrigger(h.saga).HandleBatch(8)(ctx, msgs)
	assert.Empty(t, failed)
	assert.Equal(t, n, h.log.Executions())
	assert.Equal(t, n, h.gw.Captured())

	for i, o := range orders {
		stored := h.orders.get(o.OrderID)
		require.Equal(t, domain.StatusCompleted, stored.Status, o.OrderID)

		body, err := h.receipts.Get(ctx, ReceiptKey(o.OrderID))
		require.NoError(t, err)
		var r ReceiptDocument
		require.NoError(t, json.Unmarshal(body, &r))

		assert.Equal(t, o.OrderID, r.OrderID)
		assert.True(t, strings.HasPrefix(r.TransactionID, "txn-"+o.OrderID+"-"), r.TransactionID)
		assert.Equal(t, fmt.Sprintf("%.2f", 0.10*float64(i+1)), r.TotalPrice)
		assert.Equal(t, stored.TotalPrice.StringFixed(2), r.TotalPrice)
	}
}

func TestTrigger_ConsumesRedisQueue(t *testing.T) {
	order := pendingOrder("o-20", "p1", 2)
	h := newHarness(t, fixedSource(0.1), order)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewRedisQueue(client, queue.Options{Stream: "order-processing-queue"}, nil)
	require.NoError(t, q.EnsureGroup(ctx))

	body, err := json.Marshal(order)
	require.NoError(t, err)
	_, err = q.Send(ctx, body, map[string]string{"request_id": "req-1"})
	require.NoError(t, err)
	_, err = q.Send(ctx, body, nil)
	require.NoError(t, err)

	poller := queue.NewPoller(q, NewTrigger(h.saga).HandleBatch(4), nil)
	handled, err := poller.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, handled)

	left, err := client.XLen(ctx, "order-processing-queue").Result()
	require.NoError(t, err)
	assert.Zero(t, left)
	assert.Equal(t, 1, h.log.Executions())
	assert.Equal(t, domain.StatusCompleted, h.orders.get("o-20").Status)
}

func TestTrigger_CancelledSagaResumesOnRedelivery(t *testing.T) {
	order := pendingOrder("o-21", "p1", 1)
	h := newHarness(t, fixedSource(0.1), order)
	trigger := NewTrigger(h.saga)
	msg := submission(t, order)

	ctx, cancel := context.WithCancel(context.Background())
	h.gw.afterCharge = cancel
	err := trigger.OnOrderSubmitted(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusPending, h.orders.get("o-21").Status)

	latest, err := h.log.GetLatest(context.Background(), ExecutionName("o-21"))
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusInterrupted, latest.Status)
	assert.Equal(t, "GenerateReceipt", latest.CurrentStep)

	h.gw.afterCharge = nil
	msg.ReceiveCount = 2
	require.NoError(t, trigger.OnOrderSubmitted(context.Background(), msg))

	assert.Equal(t, 1, h.gw.Captured())
	stored := h.orders.get("o-21")
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "redis://order-receipts/receipts/o-21.json", stored.ReceiptURL)
}

func TestTrigger_ShutdownDrainsInFlightSaga(t *testing.T) {
	order := pendingOrder("o-22", "p1", 1)
	h := newHarness(t, fixedSource(0.1), order)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewRedisQueue(client, queue.Options{Stream: "order-processing-queue"}, nil)
	require.NoError(t, q.EnsureGroup(context.Background()))

	body, err := json.Marshal(order)
	require.NoError(t, err)
	_, err = q.Send(context.Background(), body, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.gw.afterCharge = cancel

	handled, err := queue.NewPoller(q, NewTrigger(h.saga).HandleBatch(1), nil).PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	require.Error(t, ctx.Err(), "worker was told to stop mid-saga")

	assert.Equal(t, domain.StatusCompleted, h.orders.get("o-22").Status)
	assert.Equal(t, 1, h.gw.Captured())
	left, err := client.XLen(context.Background(), "order-processing-queue").Result()
	require.NoError(t, err)
	assert.Zero(t, left)

	latest, err := h.log.GetLatest(context.Background(), ExecutionName("o-22"))
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusCompleted, latest.Status)
}
