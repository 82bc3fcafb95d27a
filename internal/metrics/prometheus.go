package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal        prometheus.Counter
	tickDuration      prometheus.Histogram
	timersPublished   prometheus.Gauge
	timersWithoutNext prometheus.Gauge
	timerLoadsTotal   *prometheus.CounterVec
	timersLoaded      prometheus.Gauge

	// Board metrics
	subscribers    prometheus.Gauge
	snapshotsTotal prometheus.Counter

	// Content API metrics
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	cacheLookupsTotal     *prometheus.CounterVec
	cacheFallbacksTotal   *prometheus.CounterVec

	// Refresher metrics
	refreshesTotal *prometheus.CounterVec
	refreshedItems *prometheus.GaugeVec

	// Leader election metrics
	isLeader        prometheus.Gauge
	leaderLostTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initBoardMetrics(reg)
	s.initUpstreamMetrics(reg)
	s.initRefresherMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arccompanion_scheduler_ticks_total",
		Help: "Total number of countdown ticks processed.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arccompanion_scheduler_tick_duration_seconds",
		Help:    "Time spent recomputing all countdowns for one tick.",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})
	s.timersPublished = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arccompanion_scheduler_timers",
		Help: "Number of timers in the most recent tick.",
	})
	s.timersWithoutNext = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arccompanion_scheduler_timers_without_occurrence",
		Help: "Number of timers with no upcoming occurrence in the most recent tick.",
	})
	s.timerLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arccompanion_scheduler_loads_total",
		Help: "Total number of timer list loads by result.",
	}, []string{"result"})
	s.timersLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arccompanion_scheduler_timers_loaded",
		Help: "Number of timers returned by the most recent load.",
	})

	s.register(reg, s.ticksTotal, "arccompanion_scheduler_ticks_total")
	s.register(reg, s.tickDuration, "arccompanion_scheduler_tick_duration_seconds")
	s.register(reg, s.timersPublished, "arccompanion_scheduler_timers")
	s.register(reg, s.timersWithoutNext, "arccompanion_scheduler_timers_without_occurrence")
	s.register(reg, s.timerLoadsTotal, "arccompanion_scheduler_loads_total")
	s.register(reg, s.timersLoaded, "arccompanion_scheduler_timers_loaded")
}

func (s *PrometheusSink) initBoardMetrics(reg prometheus.Registerer) {
	s.subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arccompanion_board_subscribers",
		Help: "Number of displays currently subscribed to countdown snapshots.",
	})
	s.snapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arccompanion_board_snapshots_total",
		Help: "Total number of countdown snapshots published.",
	})

	s.register(reg, s.subscribers, "arccompanion_board_subscribers")
	s.register(reg, s.snapshotsTotal, "arccompanion_board_snapshots_total")
}

func (s *PrometheusSink) initUpstreamMetrics(reg prometheus.Registerer) {
	s.upstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arccompanion_upstream_requests_total",
		Help: "Total number of content API requests.",
	}, []string{"endpoint", "status_class"})
	s.upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arccompanion_upstream_request_duration_seconds",
		Help:    "Content API request latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})
	s.cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arccompanion_cache_lookups_total",
		Help: "Total number of response cache lookups by result.",
	}, []string{"result"})
	s.cacheFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arccompanion_cache_fallbacks_total",
		Help: "Total number of failed upstream requests served from the response cache.",
	}, []string{"endpoint"})

	s.register(reg, s.upstreamRequestsTotal, "arccompanion_upstream_requests_total")
	s.register(reg, s.upstreamDuration, "arccompanion_upstream_request_duration_seconds")
	s.register(reg, s.cacheLookupsTotal, "arccompanion_cache_lookups_total")
	s.register(reg, s.cacheFallbacksTotal, "arccompanion_cache_fallbacks_total")
}

func (s *PrometheusSink) initRefresherMetrics(reg prometheus.Registerer) {
	s.refreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arccompanion_refresher_runs_total",
		Help: "Total number of content refreshes by target and result.",
	}, []string{"target", "result"})
	s.refreshedItems = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arccompanion_refresher_records",
		Help: "Number of records stored by the most recent successful refresh.",
	}, []string{"target"})

	s.register(reg, s.refreshesTotal, "arccompanion_refresher_runs_total")
	s.register(reg, s.refreshedItems, "arccompanion_refresher_records")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arccompanion_refresh_leader",
		Help: "1 while this instance holds the content refresh lock.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arccompanion_refresh_leader_lost_total",
		Help: "Total number of times the content refresh lock was released, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "arccompanion_refresh_leader")
	s.register(reg, s.leaderLostTotal, "arccompanion_refresh_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, timers int, withoutOccurrence int) {
	s.tickDuration.Observe(duration.Seconds())
	s.timersPublished.Set(float64(timers))
	s.timersWithoutNext.Set(float64(withoutOccurrence))
}

func (s *PrometheusSink) TimersLoaded(count int, err error) {
	s.timerLoadsTotal.WithLabelValues(resultLabel(err)).Inc()
	s.timersLoaded.Set(float64(count))
}

// Board metrics implementation

func (s *PrometheusSink) SubscribersUpdate(count int) {
	s.subscribers.Set(float64(count))
}

func (s *PrometheusSink) SnapshotPublished(timers int) {
	s.snapshotsTotal.Inc()
}

// Content API metrics implementation

func (s *PrometheusSink) UpstreamRequest(endpoint, statusClass string, duration time.Duration) {
	s.upstreamRequestsTotal.WithLabelValues(endpoint, statusClass).Inc()
	s.upstreamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (s *PrometheusSink) CacheLookup(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	s.cacheLookupsTotal.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) CacheFallback(endpoint string) {
	s.cacheFallbacksTotal.WithLabelValues(endpoint).Inc()
}

// Refresher metrics implementation

func (s *PrometheusSink) RefreshCompleted(target string, count int, err error) {
	s.refreshesTotal.WithLabelValues(target, resultLabel(err)).Inc()
	if err == nil {
		s.refreshedItems.WithLabelValues(target).Set(float64(count))
	}
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
	} else {
		s.isLeader.Set(0)
	}
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
