package license

import (
	"context"
	"time"

	"smallbiznis-licensing/pkg/errutil"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthServiceName is the service name probes may ask for besides "".
const HealthServiceName = "smallbiznis.license.v1.LicenseService"

const defaultWatchInterval = 5 * time.Second

// HealthServer answers grpc.health.v1 probes from a store ping.
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	store    Store
	interval time.Duration
}

func NewHealthServer(store Store) *HealthServer {
	return &HealthServer{store: store, interval: defaultWatchInterval}
}

func RegisterHealthServer(server *grpc.Server, h *HealthServer) {
	grpc_health_v1.RegisterHealthServer(server, h)
}

func (h *HealthServer) status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if err := h.store.Ping(ctx); err != nil {
		zap.L().Warn("license store not serving", zap.Bool("retryable", errutil.IsRetryable(err)), zap.Error(err))
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

func knownService(name string) bool {
	return name == "" || name == HealthServiceName
}

func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if !knownService(req.GetService()) {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	return &grpc_health_v1.HealthCheckResponse{Status: h.status(ctx)}, nil
}

// Watch sends the current status and then every change until the client
// goes away.
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	ctx := stream.Context()
	if !knownService(req.GetService()) {
		return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN})
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := grpc_health_v1.HealthCheckResponse_UNKNOWN
	for {
		if current := h.status(ctx); current != last {
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: current}); err != nil {
				return errutil.ToGRPCError(err)
			}
			last = current
		}

		select {
		case <-ctx.Done():
			return errutil.ToGRPCError(ctx.Err())
		case <-ticker.C:
		}
	}
}
