package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry. Every recording method is safe
// to call on a nil *Metrics, so components can be built without metrics in
// tests.
type Metrics struct {
	reg *prometheus.Registry

	SagaExecutions  *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	QueueMessages   *prometheus.CounterVec
	TasksProcessed  *prometheus.CounterVec
	OrdersSubmitted *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	sagas := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_executions_total",
		Help: "Saga executions by terminal outcome.",
	}, []string{"outcome"})
	steps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_step_duration_seconds",
		Help:    "Duration of a single saga step.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "outcome"})
	queue := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_total",
		Help: "Queue deliveries by result (received, acked, failed, dead_lettered).",
	}, []string{"queue", "result"})
	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_processed_total",
		Help: "Task messages by task type and outcome.",
	}, []string{"task_type", "outcome"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_submitted_total",
		Help: "Order submissions accepted or rejected by the API.",
	}, []string{"outcome"})

	r.MustRegister(sagas, steps, queue, tasks, orders,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		reg:             r,
		SagaExecutions:  sagas,
		StepDuration:    steps,
		QueueMessages:   queue,
		TasksProcessed:  tasks,
		OrdersSubmitted: orders,
	}
}

func (m *Metrics) Handler() http.Handler { return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}) }

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) SagaFinished(outcome string) {
	if m == nil {
		return
	}
	m.SagaExecutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StepObserved(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step, outcome).Observe(d.Seconds())
}

func (m *Metrics) QueueMessage(queue, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QueueMessages.WithLabelValues(queue, result).Add(float64(n))
}

func (m *Metrics) TaskProcessed(taskType, outcome string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(taskType, outcome).Inc()
}

func (m *Metrics) OrderSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.OrdersSubmitted.WithLabelValues(outcome).Inc()
}
