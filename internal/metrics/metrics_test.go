package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(spinStartedCounter.WithLabelValues("ok"))
	RecordSpinStarted("ok")
	RecordSpinStarted("ok")
	if got := testutil.ToFloat64(spinStartedCounter.WithLabelValues("ok")) - before; got != 2 {
		t.Fatalf("unexpected spin_started delta: got=%v want=2", got)
	}

	SetWebSocketClients(3)
	if got := testutil.ToFloat64(wsClientsGauge); got != 3 {
		t.Fatalf("unexpected websocket gauge: got=%v want=3", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	Register()
	RecordSpinResolved()
	RecordConflict("spin")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"wheel_spin_resolved_total", "wheel_document_conflicts_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metric %s not exposed", name)
		}
	}
}
