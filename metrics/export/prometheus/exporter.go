package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() mindgate.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine counters on demand.
type PrometheusExporter struct {
	source metricsSource
	gauges []internaldefs.Gauge
}

// NewPrometheusExporter reads from engine.
func NewPrometheusExporter(engine *mindgate.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// WithGauge appends a gauge evaluated on every render. It must be called
// before the handler is mounted.
func (p *PrometheusExporter) WithGauge(name, help string, value func() uint64) *PrometheusExporter {
	if value != nil && name != "" {
		p.gauges = append(p.gauges, internaldefs.Gauge{Name: name, Help: help, Value: value})
	}
	return p
}

// Handler serves Render over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics. It returns an empty string when the
// engine has metrics disabled and nothing else is attached.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 && len(p.gauges) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			writeSample(&b, "counter", def.Name, def.Help, snapshot.Counters[def.ID])
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(&b, def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw)))
	}

	writeSample(&b, "counter", internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, dropped)

	for _, g := range p.gauges {
		writeSample(&b, "gauge", g.Name, g.Help, g.Value())
	}

	return b.String()
}

func writeHeader(b *strings.Builder, kind, name, help string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, kind, name, help string, value uint64) {
	writeHeader(b, kind, name, help)
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, "histogram", name, help)

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	b.WriteByte('\n')

	// the engine keeps bucket counts only
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
