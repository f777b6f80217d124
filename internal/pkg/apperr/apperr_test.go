package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("step failed: %w", NotFound("Product not found"))

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.True(t, HasKind(wrapped, KindNotFound))
	assert.False(t, HasKind(nil, KindNotFound))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")

	assert.Equal(t, "save order: connection refused", Persistence("save order", cause).Error())
	assert.Equal(t, "payment gateway error", TransientExternal("payment gateway error", nil).Error())
	assert.Equal(t, "connection refused", (&Error{Kind: KindPersistence, Err: cause}).Error())
}

func TestPersistenceNil(t *testing.T) {
	assert.NoError(t, Persistence("noop", nil))
}

func TestUnwrapAndIs(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("orders: %w", Persistence("put order", cause))

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, &Error{Kind: KindPersistence})
	assert.NotErrorIs(t, err, &Error{Kind: KindNotFound})
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("customerId is required"), http.StatusBadRequest},
		{NotFound("Order not found"), http.StatusNotFound},
		{Persistence("put", errors.New("down")), http.StatusInternalServerError},
		{TransientExternal("gateway", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}
