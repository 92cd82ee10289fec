package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/mindgate"
)

func TestDefsCoverEveryMetricID(t *testing.T) {
	seen := make(map[mindgate.MetricID]string, mindgate.MetricCount)
	names := make(map[string]bool)

	for _, def := range CounterDefs {
		if prev, ok := seen[def.ID]; ok {
			t.Fatalf("metric id %d defined twice (%s, %s)", def.ID, prev, def.Name)
		}
		seen[def.ID] = def.Name
		if !strings.HasPrefix(def.Name, "mindgate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter %q does not follow mindgate_*_total", def.Name)
		}
		if names[def.Name] {
			t.Fatalf("duplicate name %q", def.Name)
		}
		names[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if _, ok := seen[def.ID]; ok {
			t.Fatalf("metric id %d defined as counter and histogram", def.ID)
		}
		seen[def.ID] = def.Name
	}

	if len(seen) != mindgate.MetricCount {
		t.Fatalf("defs cover %d ids, engine defines %d", len(seen), mindgate.MetricCount)
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 0, 4}))
	want := [8]uint64{1, 3, 3, 7, 7, 7, 7, 7}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}

	if got := CumulativeBuckets(NormalizeBuckets(nil)); got != ([8]uint64{}) {
		t.Fatalf("nil buckets should be zero, got %v", got)
	}
}
