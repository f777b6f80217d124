package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/blob"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
)

// ResultKey is where the result of the task carried by messageID is stored.
func ResultKey(messageID string) string {
	return "results/" + messageID + ".json"
}

// Processor handles task messages. It keeps no state between messages.
type Processor struct {
	results  blob.Store
	handlers map[string]Handler
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewProcessor(results blob.Store, metrics *telemetry.Metrics) *Processor {
	return &Processor{
		results: results,
		handlers: map[string]Handler{
			TypeCompute:   Compute,
			TypeTransform: Transform,
		},
		metrics: metrics,
		now:     time.Now,
	}
}

// OnTaskMessage runs the handler for the message's task type and stores the
// result. Any error leaves the message unacknowledged; unknown task types
// and the fail type return an UnrecoverableTask error and write nothing.
func (p *Processor) OnTaskMessage(ctx context.Context, msg queue.Message) error {
	if id := msg.Attributes[constants.AttrRequestID]; id != "" {
		ctx = interceptors.WithRequestID(ctx, id)
	}

	var task Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		p.metrics.TaskProcessed("invalid", "failed")
		return apperr.UnrecoverableTask("task message is not valid JSON: " + err.Error())
	}

	result, err := p.dispatch(task)
	if err != nil {
		p.metrics.TaskProcessed(task.TaskType, "failed")
		slog.ErrorContext(ctx, "task failed",
			"message_id", msg.MessageID, "task_type", task.TaskType,
			"receive_count", msg.ReceiveCount, "error", err)
		return err
	}

	result.MessageID = msg.MessageID
	result.ProcessedAt = p.now().UTC().Format(time.RFC3339Nano)
	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	key := ResultKey(msg.MessageID)
	if _, err := p.results.Put(ctx, key, body, "application/json"); err != nil {
		p.metrics.TaskProcessed(task.TaskType, "failed")
		return err
	}

	p.metrics.TaskProcessed(task.TaskType, "succeeded")
	slog.InfoContext(ctx, "task processed", "message_id", msg.MessageID, "task_type", task.TaskType, "key", key)
	return nil
}

func (p *Processor) dispatch(task Task) (Result, error) {
	if task.TaskType == TypeFail {
		return Result{}, apperr.UnrecoverableTask("simulated failure for dead-letter testing")
	}
	h, ok := p.handlers[task.TaskType]
	if !ok {
		return Result{}, apperr.UnrecoverableTask(fmt.Sprintf("unknown task type: %q", task.TaskType))
	}
	return h(task.Data)
}

// HandleBatch processes a batch of task messages independently and reports
// the failed ones.
func (p *Processor) HandleBatch(concurrency int) queue.BatchHandler {
	return queue.HandleEach(p.OnTaskMessage, concurrency)
}
