package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))

	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))

	md := metadata.Pairs("x-request-id", "req-2")
	assert.Equal(t, "req-2", RequestID(metadata.NewIncomingContext(context.Background(), md)))
}

func TestUnaryServerInterceptor_PropagatesRequestID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "req-9"))

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = RequestID(ctx)
		return "ok", nil
	}

	resp, err := UnaryServerInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "req-9", seen)
}
