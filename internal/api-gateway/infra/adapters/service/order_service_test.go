package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/api-gateway/core/domain/entity"
	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/order-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/blob"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

type memRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	err    error
}

func (m *memRepo) Put(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.orders[o.OrderID] = o
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, apperr.NotFound("Order not found")
	}
	return o, nil
}

func (m *memRepo) List(context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

type brokenSender struct{}

func (brokenSender) Send(context.Context, []byte, map[string]string) (string, error) {
	return "", errors.New("queue unavailable")
}

type fixture struct {
	repo     *memRepo
	queue    *queue.RedisQueue
	log      *sagalog.Memory
	receipts blob.Store
	metrics  *telemetry.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.NewRedisQueue(client, queue.Options{Stream: "order-processing-queue"}, nil)
	require.NoError(t, q.EnsureGroup(context.Background()))
	return &fixture{
		repo:     &memRepo{orders: make(map[string]domain.Order)},
		queue:    q,
		log:      sagalog.NewMemory(),
		receipts: blob.NewRedisStore(client, "order-receipts"),
		metrics:  telemetry.NewMetrics(),
	}
}

func (f *fixture) service() *orderService {
	return NewOrderService(f.repo, f.queue, f.log, f.receipts, f.metrics).(*orderService)
}

func TestSubmitOrder_StoresAndEnqueues(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := interceptors.WithRequestID(context.Background(), "req-7")

	order, err := svc.SubmitOrder(ctx, entity.SubmitOrder{CustomerID: " c1 ", ProductID: "p1", Quantity: json.RawMessage(`"2"`)})
	require.NoError(t, err)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, 2, order.Quantity)

	stored, err := svc.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, "c1", stored.CustomerID)
	assert.Nil(t, stored.TotalPrice)

	msgs, err := f.queue.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "req-7", msgs[0].Attributes["request_id"])

	var sent domain.Order
	require.NoError(t, json.Unmarshal(msgs[0].Body, &sent))
	assert.Equal(t, order.OrderID, sent.OrderID)
	assert.Equal(t, domain.StatusPending, sent.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersSubmitted.WithLabelValues("accepted")))
}

func TestSubmitOrder_Validation(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	cases := map[string]entity.SubmitOrder{
		"no customer":   {ProductID: "p1", Quantity: json.RawMessage(`1`)},
		"no product":    {CustomerID: "c1", Quantity: json.RawMessage(`1`)},
		"no quantity":   {CustomerID: "c1", ProductID: "p1"},
		"zero quantity": {CustomerID: "c1", ProductID: "p1", Quantity: json.RawMessage(`0`)},
		"fraction":      {CustomerID: "c1", ProductID: "p1", Quantity: json.RawMessage(`1.5`)},
		"word":          {CustomerID: "c1", ProductID: "p1", Quantity: json.RawMessage(`"two"`)},
	}
	for name, in := range cases {
		_, err := svc.SubmitOrder(context.Background(), in)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), name)
	}

	orders, err := svc.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, float64(len(cases)), testutil.ToFloat64(f.metrics.OrdersSubmitted.WithLabelValues("rejected")))
}

func TestSubmitOrder_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.err = apperr.Persistence("orders: put", errors.New("connection refused"))

	_, err := f.service().SubmitOrder(context.Background(), entity.SubmitOrder{CustomerID: "c1", ProductID: "p1", Quantity: json.RawMessage(`1`)})
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	msgs, err := f.queue.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSubmitOrder_QueueFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewOrderService(f.repo, brokenSender{}, f.log, f.receipts, f.metrics)

	_, err := svc.SubmitOrder(context.Background(), entity.SubmitOrder{CustomerID: "c1", ProductID: "p1", Quantity: json.RawMessage(`1`)})
	require.EqualError(t, err, "queue unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OrdersSubmitted.WithLabelValues("failed")))
}

func TestGetExecution(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.GetExecution(ctx, "o-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err = f.log.StartExecution(ctx, &sagalog.SagaLog{SagaID: "order-o-1", Status: sagalog.StatusStarted, UpdatedAt: at})
	require.NoError(t, err)
	require.NoError(t, f.log.Save(ctx, &sagalog.SagaLog{
		SagaID:        "order-o-1",
		Status:        sagalog.StatusFailed,
		CurrentStep:   "ProcessPayment",
		ErrorMessages: `["step ProcessPayment failed: payment gateway error"]`,
		TraceID:       "abc",
		UpdatedAt:     at.Add(time.Second),
	}))

	exec, err := svc.GetExecution(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, entity.Execution{
		Name:        "order-o-1",
		Status:      "FAILED",
		CurrentStep: "ProcessPayment",
		Errors:      []string{"step ProcessPayment failed: payment gateway error"},
		TraceID:     "abc",
		UpdatedAt:   "2024-05-01T10:00:01Z",
		Steps: []entity.ExecutionStep{
			{Status: "STARTED", UpdatedAt: "2024-05-01T10:00:00Z"},
			{
				Status:    "FAILED",
				Step:      "ProcessPayment",
				Errors:    []string{"step ProcessPayment failed: payment gateway error"},
				UpdatedAt: "2024-05-01T10:00:01Z",
			},
		},
	}, exec)
}

func TestGetReceipt(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.GetReceipt(ctx, "o-1")
	require.Error(t, err)
	assert.Equal(t, "Receipt not found", err.Error())

	_, err = f.receipts.Put(ctx, "receipts/o-1.json", []byte(`{"orderId":"o-1"}`), "application/json")
	require.NoError(t, err)
	body, err := svc.GetReceipt(ctx, "o-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(body))
}

func TestEnqueueTask(t *testing.T) {
	f := newFixture(t)
	svc := NewTaskService(f.queue)
	ctx := context.Background()

	_, err := svc.EnqueueTask(ctx, "", nil, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	id, err := svc.EnqueueTask(ctx, "compute", nil, nil)
	require.NoError(t, err)

	msgs, err := f.queue.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].MessageID)
	assert.JSONEq(t, `{"task_type":"compute","data":{}}`, string(msgs[0].Body))
}
