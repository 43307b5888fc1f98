package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBaseErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ServiceUnavailable("license store unavailable", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, StatusServiceUnavailable, StatusOf(err))
	require.True(t, IsRetryable(err))
	require.Contains(t, err.Error(), "connection refused")

	body := err.(BaseError).JSON().(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, "license store unavailable", body["message"])
}

func TestStatusOfWrapped(t *testing.T) {
	err := fmt.Errorf("activate: %w", NotFound("license not found", nil))

	require.Equal(t, StatusNotFound, StatusOf(err))
	require.False(t, IsRetryable(err))
	require.Equal(t, StatusUnknown, StatusOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusBadRequest.HTTPStatus())
	require.Equal(t, http.StatusServiceUnavailable, StatusServiceUnavailable.HTTPStatus())
	require.Equal(t, http.StatusGatewayTimeout, StatusTimeout.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, StatusUnknown.HTTPStatus())
}

func TestToGRPCError(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))
	require.Equal(t, codes.Unavailable, status.Code(ToGRPCError(ServiceUnavailable("down", nil))))
	require.Equal(t, codes.DeadlineExceeded, status.Code(ToGRPCError(context.DeadlineExceeded)))
	require.Equal(t, codes.Internal, status.Code(ToGRPCError(errors.New("boom"))))

	st := status.Convert(ToGRPCError(ServiceUnavailable("license store unavailable", errors.New("dial tcp 10.0.0.1:5432"))))
	require.Equal(t, "license store unavailable", st.Message())

	st = status.Convert(ToGRPCError(BadRequest("invalid fingerprint", errors.New("odd length"))))
	require.Equal(t, codes.InvalidArgument, st.Code())
	require.Equal(t, "invalid fingerprint: odd length", st.Message())
}
