// Package apperr defines the error taxonomy shared by the order saga, the
// task processor and the HTTP gateway.
//
// Errors are values tagged with a Kind. Inside the saga they travel as plain
// return values; only the queue consumers turn them into a failed delivery,
// and only the HTTP layer turns them into a status code.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindTransientExternal Kind = "transient_external"
	KindUnrecoverableTask Kind = "unrecoverable_task"
	KindPersistence       Kind = "persistence"
)

// Error is a tagged error. Msg is the human readable text; Err, when set, is
// the underlying cause and is appended to the message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so callers can write
// errors.Is(err, &apperr.Error{Kind: apperr.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func InsufficientStock(msg string) error { return &Error{Kind: KindInsufficientStock, Msg: msg} }

func TransientExternal(msg string, err error) error {
	return &Error{Kind: KindTransientExternal, Msg: msg, Err: err}
}

func UnrecoverableTask(msg string) error { return &Error{Kind: KindUnrecoverableTask, Msg: msg} }

// Persistence wraps a store failure. A nil err yields nil so adapters can
// write `return apperr.Persistence("save order", err)` unconditionally.
func Persistence(msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HasKind reports whether err carries the given kind.
func HasKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code a synchronous caller sees.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
