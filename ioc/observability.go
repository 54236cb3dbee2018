package ioc

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/e2b-dev/infra/packages/blockproxy/internal/cfg"
	"github.com/e2b-dev/infra/packages/blockproxy/internal/stats"
)

func newObservabilityModule() fx.Option {
	return fx.Module("observability",
		fx.Provide(
			newMeterProvider,
			newPrometheusRegistry,
		),
		fx.Invoke(
			registerStatsMeter,
		),
	)
}

// newMeterProvider exports to the collector when an endpoint is configured.
// Without one the instruments are still registered but nothing reads them.
func newMeterProvider(lc fx.Lifecycle, config cfg.Config, logger *zap.Logger) (metric.MeterProvider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", config.ServiceName))

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if config.OtelCollectorGRPCEndpoint != "" {
		exporter, err := otlpmetricgrpc.New(
			context.Background(),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(config.OtelCollectorGRPCEndpoint),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(config.MetricExportPeriod)),
		))

		logger.Info("exporting metrics", zap.String("endpoint", config.OtelCollectorGRPCEndpoint))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mp.Shutdown(ctx)
		},
	})

	return mp, nil
}

func newPrometheusRegistry(store *stats.Store) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		stats.NewCollector(store),
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return registry, nil
}

func registerStatsMeter(lc fx.Lifecycle, mp metric.MeterProvider, store *stats.Store) error {
	registration, err := stats.RegisterMeter(mp, store)
	if err != nil {
		return fmt.Errorf("failed to register stats meter: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return registration.Unregister()
		},
	})

	return nil
}
