package blob

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_PutGet(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewRedisStore(client, "order-receipts")
	ctx := context.Background()

	url, err := store.Put(ctx, "receipts/o-1.json", []byte(`{"orderId":"o-1"}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "redis://order-receipts/receipts/o-1.json", url)

	body, err := store.Get(ctx, "receipts/o-1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"o-1"}`, string(body))

	assert.Equal(t, "application/json", mr.HGet("blob:order-receipts:receipts/o-1.json", "content_type"))
}

func TestRedisStore_BucketsAreIsolated(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	_, err := NewRedisStore(client, "a").Put(ctx, "k", []byte("1"), "text/plain")
	require.NoError(t, err)

	_, err = NewRedisStore(client, "b").Get(ctx, "k")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRedisStore_GetUnavailable(t *testing.T) {
	mr, client := newTestClient(t)
	mr.Close()

	_, err := NewRedisStore(client, "a").Get(context.Background(), "k")
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))
}

func TestParseURL(t *testing.T) {
	bucket, key, err := ParseURL("redis://order-receipts/receipts/o-1.json")
	require.NoError(t, err)
	assert.Equal(t, "order-receipts", bucket)
	assert.Equal(t, "receipts/o-1.json", key)

	for _, bad := range []string{"s3://b/k", "redis://bucket", "redis:///k"} {
		_, _, err := ParseURL(bad)
		assert.Error(t, err, bad)
	}
}
