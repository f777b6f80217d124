// Package interceptors carries the request id across process boundaries:
// HTTP request -> queue message attribute -> worker context, and gRPC
// metadata -> server context for the workers' gRPC endpoints.
package interceptors

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/jcmexdev/order-saga/internal/pkg/interceptors/constants"
)

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, constants.ContextKeyRequestID, id)
}

// RequestID returns the request id stored in ctx, falling back to incoming
// gRPC metadata. It returns "" when there is none.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
		return id
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(constants.HeaderXRequestId); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}

// UnaryServerInterceptor copies x-request-id from metadata into the context
// and logs every call with its duration.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		requestID := RequestID(ctx)
		if requestID != "" {
			ctx = WithRequestID(ctx, requestID)
		}

		started := time.Now()
		resp, err := handler(ctx, req)

		attrs := []any{"method", info.FullMethod, "duration_ms", time.Since(started).Milliseconds()}
		if err != nil {
			slog.WarnContext(ctx, "grpc call failed", append(attrs, "error", err)...)
		} else {
			slog.DebugContext(ctx, "grpc call", attrs...)
		}
		return resp, err
	}
}
