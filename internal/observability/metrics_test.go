package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordMutationIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGraphCollector(reg)
	if err != nil {
		t.Fatalf("NewGraphCollector: %v", err)
	}

	collector.RecordMutation("slice-a", "add_RU", nil)
	collector.RecordMutation("slice-a", "add_node", errFake)

	if got := testutil.ToFloat64(collector.MutationsTotal.WithLabelValues("slice-a", "add_RU", "ok")); got != 1 {
		t.Fatalf("add_RU ok count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.MutationsTotal.WithLabelValues("slice-a", "add_node", "error")); got != 1 {
		t.Fatalf("add_node error count = %v, want 1", got)
	}
}

var errFake = &fakeErr{}

type fakeErr struct{}

func (*fakeErr) Error() string { return "fake" }

func TestMetricsHandlerExposesSliceGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGraphCollector(reg)
	if err != nil {
		t.Fatalf("NewGraphCollector: %v", err)
	}
	collector.SetSliceCounts("slice-a", 3, 4, 5)
	collector.QoSBetweenLatency.Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"slice_mutations_total",
		"qos_between_duration_seconds",
		"slice_ru_count",
		"slice_ue_count",
		"slice_edge_count",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestGeocodeCollectorHitRatioClamped(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewGeocodeCollector(reg)
	if err != nil {
		t.Fatalf("NewGeocodeCollector: %v", err)
	}
	collector.SetHitRatio(1.5)
	if got := testutil.ToFloat64(collector.CacheHitRatio); got != 1 {
		t.Fatalf("hit ratio = %v, want clamped 1", got)
	}
	collector.SetHitRatio(-1)
	if got := testutil.ToFloat64(collector.CacheHitRatio); got != 0 {
		t.Fatalf("hit ratio = %v, want clamped 0", got)
	}
	collector.SetCacheSize(42)
	if got := testutil.ToFloat64(collector.CacheSize); got != 42 {
		t.Fatalf("cache size = %v, want 42", got)
	}
}
