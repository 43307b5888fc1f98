package main

import (
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/gen"
	"smallbiznis-licensing/pkg/hashistack/secretmanager"
	"smallbiznis-licensing/pkg/hashistack/servicediscover"
	"smallbiznis-licensing/pkg/httpapi"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/minio"
	"smallbiznis-licensing/pkg/otelcol"
	"smallbiznis-licensing/pkg/profiling"
	"smallbiznis-licensing/pkg/redis"
	"smallbiznis-licensing/pkg/server"
	"smallbiznis-licensing/services/license"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		configModule(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		gen.Module,
		redis.Module,
		minio.Client,
		httpapi.Module,
		license.ServerModule,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

// configModule reads config from consul/etcd when REMOTE_CONFIG_PROVIDER is
// set and from config.yaml otherwise.
func configModule() fx.Option {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return config.RemoteModule
	}
	return config.Module
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
