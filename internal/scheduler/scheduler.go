// Package scheduler drives the live countdown for a display session.
//
// A Scheduler owns the list of event timers currently on screen. Load
// replaces that list from the content API; Run wakes once per tick,
// recomputes every countdown against a single "now", and publishes the
// whole list as one snapshot. Run stops publishing as soon as its context
// is cancelled.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/arc-companion/internal/countdown"
	"github.com/djlord-it/arc-companion/internal/domain"
)

// DefaultTickInterval is the countdown refresh interval.
const DefaultTickInterval = time.Second

type TimerSource interface {
	EventTimers(ctx context.Context) ([]domain.EventTimer, error)
}

type Publisher interface {
	Publish(snapshot domain.Snapshot)
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, timers int, withoutOccurrence int)
	TimersLoaded(count int, err error)
}

type Config struct {
	TickInterval time.Duration
}

type Scheduler struct {
	config    Config
	source    TimerSource
	publisher Publisher
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
	sessionID uuid.UUID

	mu      sync.Mutex
	timers  []domain.EventTimer
	loaded  bool
	message string
	seq     uint64
	stopped bool
}

func New(config Config, source TimerSource, publisher Publisher) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	return &Scheduler{
		config:    config,
		source:    source,
		publisher: publisher,
		clock:     time.Now,
		sessionID: uuid.New(),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the wall clock, mainly for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// SessionID identifies this display session in published snapshots.
func (s *Scheduler) SessionID() uuid.UUID {
	return s.sessionID
}

// Load fetches the event timers and makes them the displayed list. A fetch
// error or an empty result leaves an empty list; it is logged, never
// returned. The new list is published immediately.
func (s *Scheduler) Load(ctx context.Context) {
	timers, err := s.source.EventTimers(ctx)
	if err != nil {
		log.Printf("scheduler: load timers error: %v", err)
		timers = nil
	}
	if s.metrics != nil {
		s.metrics.TimersLoaded(len(timers), err)
	}

	message := ""
	if len(timers) == 0 {
		message = domain.NoEventsMessage
	}

	s.mu.Lock()
	s.timers = timers
	s.loaded = true
	s.message = message
	s.mu.Unlock()

	log.Printf("scheduler: loaded %d timers, session=%s", len(timers), s.sessionID)
	s.publish(ctx)
}

// Retry re-issues Load after a failure.
func (s *Scheduler) Retry(ctx context.Context) {
	s.Load(ctx)
}

// Run ticks until ctx is cancelled. It never publishes after returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, session=%s tick=%s", s.sessionID, s.config.TickInterval)

	for {
		select {
		case <-ctx.Done():
			s.stop()
			log.Printf("scheduler: stopped, session=%s", s.sessionID)
			return ctx.Err()
		case <-ticker.C:
			s.processTick(ctx)
		}
	}
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *Scheduler) processTick(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.TickStarted()
	}
	start := time.Now()

	timers, absent := s.publish(ctx)

	if s.metrics != nil {
		s.metrics.TickCompleted(time.Since(start), timers, absent)
	}
}

// publish computes a snapshot for the current instant and hands it to the
// publisher. The clock is read and the snapshot published under the lock,
// so both Seq and ComputedAt are monotonic across publishes.
func (s *Scheduler) publish(ctx context.Context) (timers, absent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || ctx.Err() != nil {
		return 0, 0
	}

	snapshot, absent := s.compute(s.clock())
	s.seq++
	snapshot.Seq = s.seq
	s.publisher.Publish(snapshot)

	return len(snapshot.Timers), absent
}

// compute must be called with s.mu held.
func (s *Scheduler) compute(now time.Time) (domain.Snapshot, int) {
	snapshot := domain.Snapshot{
		SessionID:  s.sessionID,
		ComputedAt: now,
		Message:    s.message,
	}

	switch {
	case !s.loaded:
		snapshot.State = domain.SnapshotLoading
		return snapshot, 0
	case len(s.timers) == 0:
		snapshot.State = domain.SnapshotEmpty
		return snapshot, 0
	}

	snapshot.State = domain.SnapshotReady
	snapshot.Timers = make([]domain.TimerCountdown, len(s.timers))

	absent := 0
	for i, timer := range s.timers {
		res := countdown.Evaluate(countdown.Schedule{Days: timer.Days, Times: timer.Times}, now)

		tc := domain.TimerCountdown{
			Timer:     timer,
			Countdown: res.Text,
		}
		if res.OK {
			next := res.Next
			tc.Next = &next
			tc.Remaining = res.Remaining
		} else {
			absent++
		}
		snapshot.Timers[i] = tc
	}

	return snapshot, absent
}
