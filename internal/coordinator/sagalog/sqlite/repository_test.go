package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "saga.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestStartExecution_Idempotent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	entry := sagalog.NewEntry(ctx, "order-1", sagalog.StatusStarted, "", `{"orderId":"1"}`, nil)
	created, err := repo.StartExecution(ctx, entry)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.StartExecution(ctx, sagalog.NewEntry(ctx, "order-1", sagalog.StatusStarted, "", `{}`, nil))
	require.NoError(t, err)
	assert.False(t, created)

	history, err := repo.History(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, `{"orderId":"1"}`, history[0].Payload)
}

func TestStartExecution_Concurrent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.StartExecution(ctx, sagalog.NewEntry(ctx, "order-x", sagalog.StatusStarted, "", "{}", nil))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestSaveAndGetLatest(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, status := range []sagalog.Status{sagalog.StatusStarted, sagalog.StatusStepDone, sagalog.StatusFailed} {
		e := sagalog.NewEntry(ctx, "order-2", status, "ProcessPayment", "", nil)
		if status == sagalog.StatusFailed {
			e = sagalog.NewEntry(ctx, "order-2", status, "ProcessPayment", "", []string{"payment gateway error"})
		}
		e.UpdatedAt = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, repo.Save(ctx, e))
	}

	latest, err := repo.GetLatest(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusFailed, latest.Status)
	assert.Equal(t, []string{"payment gateway error"}, latest.Errors())
	assert.Equal(t, base.Add(2*time.Millisecond), latest.UpdatedAt)
	assert.Empty(t, latest.Payload)

	history, err := repo.History(ctx, "order-2")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestGetLatest_NotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetLatest(context.Background(), "order-missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestResumeExecution(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	resumed := func() sagalog.SagaLog { return *sagalog.NewEntry(ctx, "order-3", sagalog.StatusResumed, "", "", nil) }

	entry := resumed()
	_, ok, err := repo.ResumeExecution(ctx, &entry)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.StartExecution(ctx, sagalog.NewEntry(ctx, "order-3", sagalog.StatusStarted, "", `{"orderId":"3"}`, nil))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, "order-3", sagalog.StatusStepDone, "ValidateOrder", `{"orderId":"3","validation":{"valid":true}}`, nil)))
	require.NoError(t, repo.Save(ctx, sagalog.NewEntry(ctx, "order-3", sagalog.StatusInterrupted, "ProcessPayment", "", []string{"context canceled"})))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := resumed()
			history, ok, err := repo.ResumeExecution(ctx, &e)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
				assert.Len(t, history, 3)
				assert.Contains(t, history[1].Payload, `"validation"`)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)

	latest, err := repo.GetLatest(ctx, "order-3")
	require.NoError(t, err)
	assert.Equal(t, sagalog.StatusResumed, latest.Status)
}
