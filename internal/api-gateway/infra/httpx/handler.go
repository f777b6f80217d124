package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/order-saga/internal/api-gateway/core/domain/entity"
	"github.com/jcmexdev/order-saga/internal/api-gateway/core/ports"
	"github.com/jcmexdev/order-saga/internal/order-service/domain"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

const maxBodyBytes = 1 << 20

// Handler serves order ingestion, the order read side and task enqueueing.
type Handler struct {
	orderService ports.OrderService
	taskService  ports.TaskService
}

func NewHandler(os ports.OrderService, ts ports.TaskService) *Handler {
	return &Handler{orderService: os, taskService: ts}
}

// CreateOrder stores a pending order, queues it for processing and answers
// 202 with the new order id.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, err := h.orderService.SubmitOrder(r.Context(), entity.SubmitOrder{
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateOrderResponse{
		Message: "Order submitted for processing",
		OrderID: order.OrderID,
	})
}

// GetOrderByID returns a single order record.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListOrders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = mapOrderToResponse(o)
	}
	writeJSON(w, http.StatusOK, ListOrdersResponse{Count: len(out), Orders: out})
}

// GetExecution reports where the order's saga run is.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.orderService.GetExecution(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	errs := exec.Errors
	if errs == nil {
		errs = []string{}
	}
	steps := make([]ExecutionStepResponse, 0, len(exec.Steps))
	for _, st := range exec.Steps {
		steps = append(steps, ExecutionStepResponse{
			Status:    st.Status,
			Step:      st.Step,
			Errors:    st.Errors,
			UpdatedAt: st.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, ExecutionResponse{
		ExecutionName: exec.Name,
		Status:        exec.Status,
		CurrentStep:   exec.CurrentStep,
		Errors:        errs,
		TraceID:       exec.TraceID,
		UpdatedAt:     exec.UpdatedAt,
		Steps:         steps,
	})
}

// GetReceipt returns the stored receipt artifact as is.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	body, err := h.orderService.GetReceipt(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// EnqueueTask queues a task for the task worker.
func (h *Handler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	var req EnqueueTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.TaskType == "" {
		writeError(w, r, apperr.Validation("Missing task_type"))
		return
	}

	id, err := h.taskService.EnqueueTask(r.Context(), req.TaskType, req.Data, req.SubmittedAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueTaskResponse{
		Message:   "Task queued successfully",
		MessageID: id,
		TaskType:  req.TaskType,
	})
}

func decodeBody(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Validation("could not read request body")
	}
	if strings.TrimSpace(string(raw)) == "" {
		return apperr.Validation("Missing request body")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apperr.Validation("invalid value for field " + typeErr.Field)
		}
		return apperr.Validation("Invalid JSON")
	}
	return nil
}

func mapOrderToResponse(o domain.Order) OrderResponse {
	resp := OrderResponse{
		OrderID:    o.OrderID,
		CustomerID: o.CustomerID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		ReceiptURL: o.ReceiptURL,
	}
	if o.TotalPrice != nil {
		resp.TotalPrice = o.TotalPrice.StringFixed(2)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status code. Server-side failures are logged
// with the request context so they carry the request and trace ids.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
