package ioc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/block"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/cfg"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/nbd"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/proxy"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

func newProxyModule(config cfg.Config) fx.Option {
	return fx.Module("proxy",
		fx.Provide(
			stats.NewStore,
			newRegistry,
		),
		If("nbd", config.NBD.Enabled,
			fx.Provide(
				newDevicePool,
				newNBDMountFactory,
			),
		).Else(
			fx.Provide(newInProcessMountFactory),
		).Build(),
		fx.Invoke(
			createTargets,
		),
	)
}

func newDevicePool(lc fx.Lifecycle, logger *zap.Logger, mp metric.MeterProvider) (*nbd.DevicePool, error) {
	pool, err := nbd.NewDevicePool(logger, mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create nbd device pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()

			return nil
		},
	})

	return pool, nil
}

func newNBDMountFactory(pool *nbd.DevicePool, logger *zap.Logger, config cfg.Config) proxy.MountFactory {
	return nbd.MountFactory(pool, logger, nbd.MountConfig{
		BlockSize:   config.NBD.BlockSize,
		Connections: config.NBD.ConnectionsPerDevice,
	})
}

// newInProcessMountFactory leaves devices reachable only through the registry.
func newInProcessMountFactory() proxy.MountFactory {
	return nil
}

func newRegistry(lc fx.Lifecycle, config cfg.Config, logger *zap.Logger, store *stats.Store, mounts proxy.MountFactory) *proxy.Registry {
	mode := block.ReadWrite
	if config.ReadOnly {
		mode = block.ReadOnly
	}

	registry := proxy.NewRegistry(store, logger, mounts,
		proxy.WithMode(mode),
		proxy.WithMaxInflight(config.MaxInflight),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return registry.Close(ctx)
		},
	})

	return registry
}

func createTargets(lc fx.Lifecycle, config cfg.Config, registry *proxy.Registry, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, spec := range config.Targets {
				target, err := registry.Create(ctx, spec.Name, []string{spec.Path})
				if err != nil {
					return fmt.Errorf("failed to create target %s: %w", spec, err)
				}

				logger.Info("configured target ready", zap.Any("target", target.Info()))
			}

			return nil
		},
	})
}
