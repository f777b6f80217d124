package constants

// contextKey is an unexported type for context keys in this package.
// Using a custom type prevents collisions with keys from other packages
// that might use the same underlying string value.
type contextKey string

const (
	HeaderXRequestId = "x-request-id"

	// AttrRequestID is the queue message attribute carrying the request id
	// from the API to the workers.
	AttrRequestID = "request_id"

	// ContextKeyRequestID is the context key for the request ID.
	ContextKeyRequestID contextKey = HeaderXRequestId
)
