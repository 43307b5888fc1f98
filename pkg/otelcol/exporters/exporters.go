package exporters

import (
	"strings"

	"smallbiznis-licensing/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
)

// Provide picks the OTLP transport from OTEL.PROTOCOL ("grpc" by default).
func Provide(cfg *config.Config) (*otlptrace.Exporter, error) {
	switch strings.ToLower(cfg.Otel.Protocol) {
	case "http", "http/protobuf":
		return ProvideHttp(cfg)
	default:
		return ProvideGrpc(cfg)
	}
}
