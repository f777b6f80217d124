package sagalog

import (
	"context"
	"sync"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

// Memory is an in-process Repository for tests and single-shot tools.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]SagaLog
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]SagaLog)}
}

func (m *Memory) StartExecution(_ context.Context, entry *SagaLog) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.SagaID]; exists {
		return false, nil
	}
	m.entries[entry.SagaID] = []SagaLog{*entry}
	return true, nil
}

func (m *Memory) ResumeExecution(_ context.Context, entry *SagaLog) ([]SagaLog, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[entry.SagaID]
	history := append([]SagaLog(nil), list...)
	if len(list) == 0 || list[len(list)-1].Status != StatusInterrupted {
		return history, false, nil
	}
	m.entries[entry.SagaID] = append(list, *entry)
	return history, true, nil
}

func (m *Memory) Save(_ context.Context, entry *SagaLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.SagaID] = append(m.entries[entry.SagaID], *entry)
	return nil
}

func (m *Memory) GetLatest(_ context.Context, sagaID string) (*SagaLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[sagaID]
	if len(list) == 0 {
		return nil, apperr.NotFound("execution " + sagaID + " not found")
	}
	latest := list[len(list)-1]
	return &latest, nil
}

func (m *Memory) History(_ context.Context, sagaID string) ([]SagaLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SagaLog(nil), m.entries[sagaID]...), nil
}

// Executions returns how many distinct executions were started.
func (m *Memory) Executions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
