// Package sagalog records saga executions.
//
// Two tables back it: an execution registry keyed by the unique execution
// name, which makes starting a saga idempotent, and an append-only log of
// every state transition. The log serves observability (where is execution
// X, which trace did it run under) and post-mortems of failed runs.
package sagalog

import "time"

// Status is the lifecycle state recorded by one log entry.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusStepDone  Status = "STEP_DONE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"

	// StatusInterrupted marks a run stopped by an infrastructure failure
	// (store unavailable, worker shutdown). The next delivery resumes it.
	StatusInterrupted Status = "INTERRUPTED"
	// StatusResumed opens a new attempt of an interrupted run.
	StatusResumed Status = "RESUMED"
)

// Terminal reports whether no further entries follow this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SagaLog is one row of the transition log.
type SagaLog struct {
	// SagaID is the execution name, e.g. "order-<orderId>".
	SagaID string

	Status Status

	// CurrentStep is the step that just finished or failed.
	CurrentStep string

	// Payload is a JSON snapshot of the execution context: the input on the
	// STARTED entry, the accumulated context on STEP_DONE entries. Other
	// entries leave it empty.
	Payload string

	// ErrorMessages is a JSON array of failure texts.
	ErrorMessages string

	// TraceID and SpanID identify the span that was active when the entry
	// was written.
	TraceID string
	SpanID  string

	UpdatedAt time.Time
}
