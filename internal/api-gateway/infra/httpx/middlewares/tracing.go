package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/order-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/order-saga/internal/pkg/interceptors/constants"
)

// AttachTracingMetadata continues the caller's trace, opens a server span
// for the request and makes the chi request id available to the
// application through interceptors.RequestID.
func AttachTracingMetadata(next http.Handler) http.Handler {
	tracer := otel.Tracer("api-gateway")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		if requestID != "" {
			ctx = interceptors.WithRequestID(ctx, requestID)
			w.Header().Set(constants.HeaderXRequestId, requestID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
