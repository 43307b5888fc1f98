package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/gen"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/services/license"
)

// seed issues one license per tier for local development.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		license.Module,
		fx.Invoke(seed),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

func seed(lc fx.Lifecycle, svc *license.Service, _ *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			days := 30
			for _, lt := range license.AllTypes() {
				req := license.IssueRequest{
					Type:         lt,
					CompanyName:  "Demo " + lt.String(),
					ContactEmail: "demo@example.com",
				}
				if lt == license.Trial {
					req.DurationDays = &days
				}

				l, err := svc.Issue(ctx, req)
				if err != nil {
					return err
				}
				zap.L().Info("[seed] license issued", zap.String("type", lt.String()), zap.String("license_key", l.LicenseKey))
			}
			return nil
		},
	})
}
