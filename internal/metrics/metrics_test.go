package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Enqueued()
	m.GatewayAdmitted("embed", 10, time.Second)
	m.StageFinished("indexing", time.Second, "transient")
	m.ProgressDrop("kafka")
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestRecordingUpdatesCollectors(t *testing.T) {
	m := New()
	m.Enqueued()
	m.Enqueued()
	m.TierOutcome("tier1", "miss")
	m.StageFinished("validation", 10*time.Millisecond, "policy")

	if got := testutil.ToFloat64(m.QueueEnqueued); got != 2 {
		t.Fatalf("enqueued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TierOutcomes.WithLabelValues("tier1", "miss")); got != 1 {
		t.Fatalf("tier outcome = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues("validation", "policy")); got != 1 {
		t.Fatalf("stage failures = %v, want 1", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.Dequeued()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "scribe_queue_dequeued_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
