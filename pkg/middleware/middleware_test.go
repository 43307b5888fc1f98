package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newRouter(h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Channel(), RequestLogger(), Error())
	r.GET("/", h)
	return r
}

func TestErrorRendersDomainError(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(errutil.ServiceUnavailable("license store unavailable", errors.New("dial tcp: refused")))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotContains(t, w.Body.String(), "refused")

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, string(errutil.StatusServiceUnavailable), body.Error.Code)
	require.Equal(t, "license store unavailable", body.Error.Message)
}

func TestErrorHidesUnknownError(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("pq: secret detail"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "secret detail")
}

func TestErrorLeavesWrittenResponse(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChannel(t *testing.T) {
	var got string
	r := newRouter(func(c *gin.Context) {
		got = GetChannel(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	for header, want := range map[string]string{"": "api", "Desktop": "desktop", "console": "admin", "pos": "api"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(ChannelHeader, header)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, want, got, header)
	}
}

func TestChannelInterceptor(t *testing.T) {
	interceptor := ChannelInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return GetChannel(ctx), nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-client-channel", "desktop"))
	resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err)
	require.Equal(t, "desktop", resp)

	resp, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err)
	require.Equal(t, "api", resp)
}
