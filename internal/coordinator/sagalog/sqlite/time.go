package sqlite

import (
	"fmt"
	"time"

	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
)

// formatTime renders the entry timestamp with a fixed-width fraction so that
// the TEXT column sorts chronologically.
func formatTime(entry *sagalog.SagaLog) string {
	return entry.UpdatedAt.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
