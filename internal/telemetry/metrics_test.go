package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init()

	if Observations == nil || Events == nil || Intents == nil || Deduped == nil || Jobs == nil || QueueDepth == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestHelpersRecord(t *testing.T) {
	Init()

	before := testutil.ToFloat64(Jobs.WithLabelValues("t1", "delivered"))
	JobFinished("t1", "delivered")
	JobFinished("t1", "delivered")
	if got := testutil.ToFloat64(Jobs.WithLabelValues("t1", "delivered")) - before; got != 2 {
		t.Fatalf("delivered delta = %v, want 2", got)
	}

	SetQueueDepth("t1", 4)
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("t1")); got != 4 {
		t.Fatalf("queue depth = %v, want 4", got)
	}

	d := testutil.ToFloat64(Deduped)
	IntentDeduped()
	if got := testutil.ToFloat64(Deduped) - d; got != 1 {
		t.Fatalf("deduped delta = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	Init()
	IntentMatched("t2", "enter")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), `livereply_intents_total{rule="enter",session="t2"}`) {
		t.Fatalf("metrics output missing intents counter:\n%s", body)
	}
}
