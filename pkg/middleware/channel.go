package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const ChannelHeader = "X-Client-Channel"

type channelKey struct{}

var ChannelContextKey = channelKey{}

// deriveChannel maps the caller's channel header onto a known channel.
// Desktop installs send "desktop", the admin console sends "admin".
func deriveChannel(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "desktop", "client":
		return "desktop"
	case "admin", "console":
		return "admin"
	default:
		return "api"
	}
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelContextKey, channel)
}

// Channel tags the request context with the caller channel so service logs
// can tell desktop activations from admin traffic.
func Channel() gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := deriveChannel(c.GetHeader(ChannelHeader))
		c.Request = c.Request.WithContext(WithChannel(c.Request.Context(), channel))
		c.Next()
	}
}

// ChannelInterceptor is the gRPC counterpart of Channel, reading the
// x-client-channel metadata key.
func ChannelInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		channel := "api"
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(strings.ToLower(ChannelHeader)); len(vals) > 0 {
				channel = deriveChannel(vals[0])
			}
		}
		return handler(WithChannel(ctx, channel), req)
	}
}

// GetChannel returns the caller channel, "api" when untagged.
func GetChannel(ctx context.Context) string {
	ch, ok := ctx.Value(ChannelContextKey).(string)
	if !ok {
		return "api"
	}
	return ch
}
