package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsConfig holds configuration for the metrics provider.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// MetricsProvider wraps the OpenTelemetry meter provider. Metrics are
// pulled on demand through a manual reader.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// InitMetrics builds the meter provider and installs it globally.
func InitMetrics(cfg MetricsConfig) *MetricsProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	return &MetricsProvider{provider: provider, reader: reader}
}

// Meter returns a meter for the given instrumentation name.
func (mp *MetricsProvider) Meter(name string) metric.Meter {
	return mp.provider.Meter(name)
}

// Collect reads the current value of every instrument.
func (mp *MetricsProvider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if err := mp.reader.Collect(ctx, &rm); err != nil {
		return rm, fmt.Errorf("collect metrics: %w", err)
	}
	return rm, nil
}

// Point is one flattened data point.
type Point struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Points collects and flattens sums and gauges, sorted by name. Histograms
// report their count.
func (mp *MetricsProvider) Points(ctx context.Context) ([]Point, error) {
	rm, err := mp.Collect(ctx)
	if err != nil {
		return nil, err
	}

	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Value: dp.Value})
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Value: float64(dp.Value)})
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Value: float64(dp.Count)})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Shutdown flushes and stops the provider.
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp == nil || mp.provider == nil {
		return nil
	}
	if err := mp.provider.Shutdown(ctx); err != nil && !errors.Is(err, sdkmetric.ErrReaderShutdown) {
		return err
	}
	return nil
}
