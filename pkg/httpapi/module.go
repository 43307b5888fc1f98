package httpapi

import (
	"net/http"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/health"
	"smallbiznis-licensing/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	health.Module,
	fx.Provide(
		NewEngine,
		NewHandler,
	),
	fx.Invoke(
		registerHealthEndpoint,
		registerMetricsEndpoint,
	),
)

// NewEngine builds the gin engine every HTTP route is mounted on.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.Channel(),
		middleware.RequestLogger(),
		middleware.Error(),
	)
	return r
}

type HandlerParams struct {
	fx.In
	Engine         *gin.Engine
	TracerProvider trace.TracerProvider `optional:"true"`
}

// NewHandler wraps the engine so every request starts a server span.
func NewHandler(p HandlerParams) http.Handler {
	var opts []otelhttp.Option
	if p.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(p.TracerProvider))
	}
	return otelhttp.NewHandler(p.Engine, "license-server", opts...)
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/health/liveness", h.Liveness)
	r.GET("/health/readiness", h.Readiness)
}

func registerMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
