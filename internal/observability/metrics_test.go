package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/mindgate/internal/observability"
)

func TestMetricsProviderPoints(t *testing.T) {
	mp := observability.InitMetrics(observability.MetricsConfig{ServiceName: "mindgate", Environment: "test"})
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	meter := mp.Meter("test")
	requests, err := meter.Int64Counter("requests_total")
	require.NoError(t, err)
	_, err = meter.Int64ObservableGauge("devices_active", metric.WithInt64Callback(
		func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(7)
			return nil
		}))
	require.NoError(t, err)

	ctx := context.Background()
	requests.Add(ctx, 2)
	requests.Add(ctx, 3)

	points, err := mp.Points(ctx)
	require.NoError(t, err)
	require.Equal(t, []observability.Point{
		{Name: "devices_active", Value: 7},
		{Name: "requests_total", Value: 5},
	}, points)
}

func TestMetricsProviderShutdownTwice(t *testing.T) {
	mp := observability.InitMetrics(observability.MetricsConfig{ServiceName: "mindgate"})
	require.NoError(t, mp.Shutdown(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))

	var nilProvider *observability.MetricsProvider
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}
