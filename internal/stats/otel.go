package stats

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	RequestsMeterName     = "blockproxy.requests"
	RequestBytesMeterName = "blockproxy.requests.bytes"
)

// RegisterMeter exports the store as observable counters. The returned
// registration must be unregistered when the store is no longer exported.
func RegisterMeter(meterProvider metric.MeterProvider, s *Store) (metric.Registration, error) {
	meter := meterProvider.Meter("internal.stats")

	reqs, err := meter.Int64ObservableCounter(RequestsMeterName,
		metric.WithDescription("Total requests counted by the proxy"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get requests metric: %w", err)
	}

	bytes, err := meter.Int64ObservableCounter(RequestBytesMeterName,
		metric.WithDescription("Total bytes carried by counted requests"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get request bytes metric: %w", err)
	}

	readAttrs := metric.WithAttributes(attribute.String("op", Read.String()))
	writeAttrs := metric.WithAttributes(attribute.String("op", Write.String()))

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := s.Snapshot()

		o.ObserveInt64(reqs, int64(snap.ReadCount), readAttrs)
		o.ObserveInt64(reqs, int64(snap.WriteCount), writeAttrs)
		o.ObserveInt64(bytes, int64(snap.ReadBytes), readAttrs)
		o.ObserveInt64(bytes, int64(snap.WriteBytes), writeAttrs)

		return nil
	}, reqs, bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to register stats callback: %w", err)
	}

	return reg, nil
}
