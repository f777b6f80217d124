// Package blob is the Result/Receipt Store: write-and-read-back JSON
// artifacts grouped in buckets, backed by Redis hashes.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/order-saga/internal/pkg/apperr"
)

// Store is one bucket of the blob store.
type Store interface {
	// Put writes body under key and returns the artifact URL.
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	// Get returns the body stored under key, or a NotFound error.
	Get(ctx context.Context, key string) ([]byte, error)
	// URL returns the address Put would return for key.
	URL(key string) string
}

const urlScheme = "redis://"

type redisStore struct {
	client redis.UniversalClient
	bucket string
}

// NewRedisStore returns the bucket named bucket on client.
func NewRedisStore(client redis.UniversalClient, bucket string) Store {
	return &redisStore{client: client, bucket: bucket}
}

func (r *redisStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	err := r.client.HSet(ctx, r.generateKey(key),
		"body", body,
		"content_type", contentType,
		"created_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return "", apperr.Persistence(fmt.Sprintf("blob: put %s/%s", r.bucket, key), err)
	}
	return r.URL(key), nil
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := r.client.HGet(ctx, r.generateKey(key), "body").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound(fmt.Sprintf("blob %s/%s not found", r.bucket, key))
	}
	if err != nil {
		return nil, apperr.Persistence(fmt.Sprintf("blob: get %s/%s", r.bucket, key), err)
	}
	return body, nil
}

func (r *redisStore) URL(key string) string {
	return urlScheme + r.bucket + "/" + key
}

func (r *redisStore) generateKey(key string) string {
	return fmt.Sprintf("blob:%s:%s", r.bucket, key)
}

// ParseURL splits an artifact URL into bucket and key.
func ParseURL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, urlScheme)
	if !ok {
		return "", "", apperr.Validation("blob: unsupported url " + url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", apperr.Validation("blob: malformed url " + url)
	}
	return bucket, key, nil
}
