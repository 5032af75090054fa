package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveBatch(t *testing.T) {
	m := New(nil)

	m.ObserveBatch(98, 2)
	m.ObserveBatch(50, 0)

	if got := testutil.ToFloat64(m.batches); got != 2 {
		t.Errorf("batches = %v, want %v", got, 2)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues(OutcomeProcessed)); got != 148 {
		t.Errorf("processed = %v, want %v", got, 148)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues(OutcomeFailed)); got != 2 {
		t.Errorf("failed = %v, want %v", got, 2)
	}
}

func TestMetrics_ObserveJobAndCache(t *testing.T) {
	m := New(nil)

	m.ObserveJob("COMPLETED", 3*time.Second)
	m.ObserveJob("PARTIAL", time.Second)
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCacheLookup(false)

	if got := testutil.ToFloat64(m.jobs.WithLabelValues("COMPLETED")); got != 1 {
		t.Errorf("jobs{COMPLETED} = %v, want %v", got, 1)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache{miss} = %v, want %v", got, 2)
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.ObserveBatch(1, 1)
	m.ObserveJob("FAILED", time.Second)
	m.ObserveCacheLookup(true)
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.ObserveBatch(1, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "langfuse_batch_eval_batches_total 1") {
		t.Errorf("metrics output missing batches counter:\n%s", body)
	}
}
