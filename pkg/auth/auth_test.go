package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareStoresUser(t *testing.T) {
	var got UserContext
	var gotErr error
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = GetUserContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "  u-42 ")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NoError(t, gotErr)
	assert.Equal(t, "u-42", got.UserID)
}

func TestGetUserContextMissing(t *testing.T) {
	_, err := GetUserContext(context.Background())
	assert.ErrorIs(t, err, ErrNoUser)
}
