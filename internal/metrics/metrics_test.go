package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.Enqueued(1)
	c.Dispatched(0)
	c.Finished("Completed", time.Millisecond)
	c.Stopped(3)
	c.Rejected("not_registered")
	c.Cancelled()
	c.Reconfigured()
	if c.Handler() == nil {
		t.Fatal("nil collector returned nil handler")
	}
}

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.Enqueued(1)
	c.Enqueued(2)
	c.Dispatched(1)
	c.Finished("Completed", 20*time.Millisecond)
	c.Dispatched(0)
	c.Finished("TimedOut", time.Second)
	c.Stopped(4)
	c.Rejected("not_configured")

	if got := testutil.ToFloat64(c.enqueued); got != 2 {
		t.Fatalf("enqueued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.dispatched); got != 2 {
		t.Fatalf("dispatched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.inFlight); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("TimedOut")); got != 1 {
		t.Fatalf("timed out = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stopped); got != 4 {
		t.Fatalf("stopped = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.rejected.WithLabelValues("not_configured")); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
}

func TestNewWithRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewWith(reg); err != nil {
		t.Fatalf("first NewWith: %v", err)
	}
	if _, err := NewWith(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	c := New()
	c.Enqueued(1)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "taskguidance_actions_enqueued_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", rr.Body.String())
	}
}
