package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func getHistogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	var total uint64
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetHistogram() != nil {
					total += m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return total
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_DoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)
	sink := NewPrometheusSink(reg)
	sink.TickStarted()
}

func TestPrometheusSink_TickStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickStarted()
	sink.TickStarted()

	val := getCounterValue(t, reg, "arccompanion_scheduler_ticks_total")
	if val != 2 {
		t.Errorf("ticks_total = %v, want 2", val)
	}
}

func TestPrometheusSink_TickCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickCompleted(50*time.Microsecond, 4, 1)

	if got := getGaugeValue(t, reg, "arccompanion_scheduler_timers"); got != 4 {
		t.Errorf("timers = %v, want 4", got)
	}
	if got := getGaugeValue(t, reg, "arccompanion_scheduler_timers_without_occurrence"); got != 1 {
		t.Errorf("timers_without_occurrence = %v, want 1", got)
	}
	if got := getHistogramCount(t, reg, "arccompanion_scheduler_tick_duration_seconds"); got != 1 {
		t.Errorf("tick_duration count = %v, want 1", got)
	}
}

func TestPrometheusSink_TimersLoaded(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TimersLoaded(7, nil)
	sink.TimersLoaded(0, errors.New("upstream down"))

	ok := getCounterVecValue(t, reg, "arccompanion_scheduler_loads_total", map[string]string{"result": "ok"})
	failed := getCounterVecValue(t, reg, "arccompanion_scheduler_loads_total", map[string]string{"result": "error"})
	if ok != 1 || failed != 1 {
		t.Errorf("loads ok=%v error=%v, want 1/1", ok, failed)
	}
	if got := getGaugeValue(t, reg, "arccompanion_scheduler_timers_loaded"); got != 0 {
		t.Errorf("timers_loaded = %v, want 0", got)
	}
}

func TestPrometheusSink_Board(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SubscribersUpdate(3)
	sink.SnapshotPublished(5)
	sink.SnapshotPublished(5)

	if got := getGaugeValue(t, reg, "arccompanion_board_subscribers"); got != 3 {
		t.Errorf("subscribers = %v, want 3", got)
	}
	if got := getCounterValue(t, reg, "arccompanion_board_snapshots_total"); got != 2 {
		t.Errorf("snapshots_total = %v, want 2", got)
	}
}

func TestPrometheusSink_UpstreamRequestLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.UpstreamRequest("event-timers", StatusClass2xx, 100*time.Millisecond)
	sink.UpstreamRequest("items", StatusClass5xx, 200*time.Millisecond)

	val1 := getCounterVecValue(t, reg, "arccompanion_upstream_requests_total",
		map[string]string{"endpoint": "event-timers", "status_class": "2xx"})
	if val1 != 1 {
		t.Errorf("endpoint=event-timers,status=2xx = %v, want 1", val1)
	}

	val2 := getCounterVecValue(t, reg, "arccompanion_upstream_requests_total",
		map[string]string{"endpoint": "items", "status_class": "5xx"})
	if val2 != 1 {
		t.Errorf("endpoint=items,status=5xx = %v, want 1", val2)
	}

	if got := getHistogramCount(t, reg, "arccompanion_upstream_request_duration_seconds"); got != 2 {
		t.Errorf("request_duration count = %v, want 2", got)
	}
}

func TestPrometheusSink_Cache(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.CacheLookup(true)
	sink.CacheLookup(false)
	sink.CacheLookup(false)
	sink.CacheFallback("quests")

	if got := getCounterVecValue(t, reg, "arccompanion_cache_lookups_total", map[string]string{"result": "hit"}); got != 1 {
		t.Errorf("hit = %v, want 1", got)
	}
	if got := getCounterVecValue(t, reg, "arccompanion_cache_lookups_total", map[string]string{"result": "miss"}); got != 2 {
		t.Errorf("miss = %v, want 2", got)
	}
	if got := getCounterVecValue(t, reg, "arccompanion_cache_fallbacks_total", map[string]string{"endpoint": "quests"}); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}

func TestPrometheusSink_RefreshCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RefreshCompleted("items", 42, nil)
	sink.RefreshCompleted("items", 0, errors.New("db locked"))

	ok := getCounterVecValue(t, reg, "arccompanion_refresher_runs_total", map[string]string{"target": "items", "result": "ok"})
	failed := getCounterVecValue(t, reg, "arccompanion_refresher_runs_total", map[string]string{"target": "items", "result": "error"})
	if ok != 1 || failed != 1 {
		t.Errorf("runs ok=%v error=%v, want 1/1", ok, failed)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "arccompanion_refresher_records" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 42 {
				t.Errorf("records = %v, want 42 (failed refresh must not reset it)", v)
			}
			return
		}
	}
	t.Error("arccompanion_refresher_records not found")
}

func TestPrometheusSink_Leader(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	if got := getGaugeValue(t, reg, "arccompanion_refresh_leader"); got != 1 {
		t.Errorf("leader gauge = %v, want 1", got)
	}

	sink.LeaderStatusChanged(false)
	sink.LeaderLost("conn_lost")
	if got := getGaugeValue(t, reg, "arccompanion_refresh_leader"); got != 0 {
		t.Errorf("leader gauge = %v, want 0", got)
	}
	if got := getCounterVecValue(t, reg, "arccompanion_refresh_leader_lost_total", map[string]string{"reason": "conn_lost"}); got != 1 {
		t.Errorf("lost = %v, want 1", got)
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
