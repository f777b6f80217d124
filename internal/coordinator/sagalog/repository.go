package sagalog

import (
	"context"
	"encoding/json"
)

// Repository is the port the orchestrator and the trigger depend on.
type Repository interface {
	// StartExecution registers entry.SagaID and appends entry (a STARTED
	// entry) in one transaction. It returns false without writing anything
	// when an execution with that name already exists.
	StartExecution(ctx context.Context, entry *SagaLog) (bool, error)

	// ResumeExecution appends entry (a RESUMED entry) when the newest entry
	// of entry.SagaID is INTERRUPTED, and reports whether it did. The check
	// and the append are atomic, so one interrupted run is resumed by one
	// caller only. history holds the entries as they were before the call.
	ResumeExecution(ctx context.Context, entry *SagaLog) (history []SagaLog, resumed bool, err error)

	// Save appends a transition entry.
	Save(ctx context.Context, entry *SagaLog) error

	// GetLatest returns the newest entry of an execution, or a NotFound
	// error.
	GetLatest(ctx context.Context, sagaID string) (*SagaLog, error)

	// History returns every entry of an execution, oldest first.
	History(ctx context.Context, sagaID string) ([]SagaLog, error)
}

// Errors decodes ErrorMessages.
func (l SagaLog) Errors() []string {
	var out []string
	if l.ErrorMessages == "" {
		return out
	}
	_ = json.Unmarshal([]byte(l.ErrorMessages), &out)
	return out
}
