package ioc

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/cfg"
)

func New(config cfg.Config, logger *zap.Logger) *fx.App {
	return fx.New(Options(config, logger))
}

func Options(config cfg.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.StartTimeout(time.Minute),
		fx.StopTimeout(5*time.Minute),

		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),

		fx.Supply(config, logger),

		newObservabilityModule(),
		newProxyModule(config),
		newHTTPModule(),
	)
}
