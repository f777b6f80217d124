package service

import (
	"context"
	"encoding/json"

	"github.com/jcmexdev/order-saga/internal/api-gateway/core/ports"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/order-saga/internal/pkg/queue"
	"github.com/jcmexdev/order-saga/internal/tasks"
)

var _ ports.TaskService = (*taskService)(nil)

type taskService struct {
	queue queue.Sender
}

func NewTaskService(q queue.Sender) ports.TaskService {
	return &taskService{queue: q}
}

// EnqueueTask sends the task as given. The task type is not checked here;
// unknown types end up in the dead-letter queue.
func (s *taskService) EnqueueTask(ctx context.Context, taskType string, data json.RawMessage, submittedAt *string) (string, error) {
	if taskType == "" {
		return "", apperr.Validation("Missing task_type")
	}
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(tasks.Task{TaskType: taskType, Data: data, SubmittedAt: submittedAt})
	if err != nil {
		return "", apperr.Validation("Invalid task data")
	}

	var attrs map[string]string
	if id := interceptors.RequestID(ctx); id != "" {
		attrs = map[string]string{constants.AttrRequestID: id}
	}
	return s.queue.Send(ctx, body, attrs)
}
