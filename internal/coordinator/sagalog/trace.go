package sagalog

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// NewEntry builds a log entry for sagaID stamped with the current time and
// with the span active in ctx, if any. errs is stored as a JSON array.
//
//	_ = repo.Save(ctx, sagalog.NewEntry(ctx, "order-42", sagalog.StatusStepDone, "ProcessPayment", "", nil))
func NewEntry(ctx context.Context, sagaID string, status Status, currentStep, payload string, errs []string) *SagaLog {
	if errs == nil {
		errs = []string{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		encoded = []byte("[]")
	}

	entry := &SagaLog{
		SagaID:        sagaID,
		Status:        status,
		CurrentStep:   currentStep,
		Payload:       payload,
		ErrorMessages: string(encoded),
		UpdatedAt:     time.Now().UTC(),
	}
	entry.stampTrace(ctx)
	return entry
}

// stampTrace copies the trace and span ids of ctx onto l. Without a valid
// span both stay empty.
func (l *SagaLog) stampTrace(ctx context.Context) {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return
	}
	l.TraceID = sc.TraceID().String()
	l.SpanID = sc.SpanID().String()
}
