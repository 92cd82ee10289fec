package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/mindgate"
)

type fakeSource struct {
	snapshot mindgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() mindgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func emptySnapshot() mindgate.MetricsSnapshot {
	return mindgate.MetricsSnapshot{
		Counters:   map[mindgate.MetricID]uint64{},
		Histograms: map[mindgate.MetricID][]uint64{},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: emptySnapshot()})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mindgate.MetricsSnapshot{
			Counters: map[mindgate.MetricID]uint64{
				mindgate.MetricSignInSuccess:        7,
				mindgate.MetricRefreshReuseDetected: 1,
			},
			Histograms: map[mindgate.MetricID][]uint64{
				mindgate.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"mindgate_sign_in_success_total 7",
		"mindgate_refresh_reuse_detected_total 1",
		"mindgate_sign_up_success_total 0",
		"# TYPE mindgate_validate_latency_seconds histogram",
		"mindgate_validate_latency_seconds_bucket{le=\"0.005\"} 1",
		"mindgate_validate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"mindgate_validate_latency_seconds_count 36",
		"mindgate_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}

	if exp.Render() != out {
		t.Fatal("render output is not deterministic")
	}
}

func TestRenderGauge(t *testing.T) {
	devices := uint64(3)
	exp := NewPrometheusExporterFromSource(fakeSource{snapshot: emptySnapshot()}).
		WithGauge("mindgate_devices_active", "Devices holding a stored session.", func() uint64 { return devices })

	out := exp.Render()
	if !strings.Contains(out, "# TYPE mindgate_devices_active gauge") {
		t.Fatalf("missing gauge type line:\n%s", out)
	}
	if !strings.Contains(out, "mindgate_devices_active 3") {
		t.Fatalf("missing gauge sample:\n%s", out)
	}
	if strings.Contains(out, "mindgate_sign_in_success_total") {
		t.Fatalf("counters rendered while engine metrics are disabled:\n%s", out)
	}

	devices = 1
	if !strings.Contains(exp.Render(), "mindgate_devices_active 1") {
		t.Fatal("gauge not re-evaluated on render")
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != "a\\\\b\\nc" {
		t.Fatalf("escapeHelp = %q", got)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mindgate.MetricsSnapshot{
			Counters:   map[mindgate.MetricID]uint64{mindgate.MetricSignOut: 1},
			Histograms: map[mindgate.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mindgate_sign_out_total 1") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: mindgate.MetricsSnapshot{
			Counters: map[mindgate.MetricID]uint64{
				mindgate.MetricSignInSuccess:      1000,
				mindgate.MetricSignInFailure:      40,
				mindgate.MetricRefreshSuccess:     800,
				mindgate.MetricRefreshFailure:     10,
				mindgate.MetricSessionCreated:     800,
				mindgate.MetricSessionInvalidated: 20,
			},
			Histograms: map[mindgate.MetricID][]uint64{
				mindgate.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
