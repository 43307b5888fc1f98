package license

import (
	"context"

	"smallbiznis-licensing/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var StoreModule = fx.Module("license.store",
	fx.Provide(fx.Annotate(NewGormStore, fx.As(new(Store)))),
	fx.Invoke(runMigration),
)

// Module wires the license core: store, codec, notifier, archive and service.
var Module = fx.Module("license.module",
	StoreModule,
	fx.Provide(
		ProvideCodec,
		NewNotifier,
		NewArchiver,
		NewService,
	),
)

// ServerModule mounts the HTTP routes and the gRPC health service.
var ServerModule = fx.Module("license.server",
	Module,
	fx.Provide(
		NewHandler,
		NewHealthServer,
	),
	fx.Invoke(
		registerRoutes,
		RegisterHealthServer,
	),
)

// WorkerModule runs the expiry sweep handler and its daily scheduler.
var WorkerModule = fx.Module("license.worker",
	StoreModule,
	fx.Provide(NewSweeper),
	fx.Invoke(
		RegisterSweepHandler,
		StartSweepScheduler,
	),
)

func ProvideCodec(cfg *config.Config) (*Codec, error) {
	codec, err := NewCodec(cfg.License.Secret, cfg.License.PreviousSecrets...)
	if err != nil {
		zap.L().Error("license signing secret is not configured", zap.Error(err))
		return nil, err
	}
	return codec, nil
}

func registerRoutes(r *gin.Engine, h *Handler) {
	h.RegisterRoutes(r)
}

// runMigration creates the licenses table on start when DATABASE.AUTO_MIGRATE
// is set.
func runMigration(lc fx.Lifecycle, cfg *config.Config, db *gorm.DB) {
	if !cfg.Database.AutoMigrate {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.WithContext(ctx).AutoMigrate(&License{}); err != nil {
				zap.L().Error("[license] failed to migrate licenses table", zap.Error(err))
				return err
			}
			zap.L().Info("[license] licenses table migrated")
			return nil
		},
	})
}
