package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/arc-companion/internal/countdown"
	"github.com/djlord-it/arc-companion/internal/domain"
	"github.com/djlord-it/arc-companion/internal/testutil"
)

// mockSource returns a fixed list of timers or an error.
type mockSource struct {
	mu     sync.Mutex
	timers []domain.EventTimer
	err    error
	calls  int
}

func (m *mockSource) EventTimers(ctx context.Context) ([]domain.EventTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.timers, nil
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPublisher records every published snapshot.
type mockPublisher struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
}

func (p *mockPublisher) Publish(s domain.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, s)
}

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

func (p *mockPublisher) last() domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots[len(p.snapshots)-1]
}

func newTestScheduler(source *mockSource, clock *testutil.FakeClock) (*Scheduler, *mockPublisher) {
	pub := &mockPublisher{}
	s := New(Config{TickInterval: 5 * time.Millisecond}, source, pub).WithClock(clock.Now)
	return s, pub
}

func TestScheduler_LoadPublishesCountdowns(t *testing.T) {
	source := &mockSource{timers: []domain.EventTimer{
		testutil.Timer("Harvester", []string{"Mon"}, "14:00"),
		testutil.Timer("Night Raid", []string{"Tue"}, "13:00"),
	}}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(source, clock)

	s.Load(context.Background())

	if pub.count() != 1 {
		t.Fatalf("expected 1 snapshot after load, got %d", pub.count())
	}
	snap := pub.last()
	if snap.State != domain.SnapshotReady {
		t.Errorf("State = %q, want %q", snap.State, domain.SnapshotReady)
	}
	if snap.SessionID != s.SessionID() {
		t.Errorf("SessionID = %s, want %s", snap.SessionID, s.SessionID())
	}
	if len(snap.Timers) != 2 {
		t.Fatalf("expected 2 timers, got %d", len(snap.Timers))
	}
	if got := snap.Timers[0].Countdown; got != "1h 0m" {
		t.Errorf("Harvester countdown = %q, want %q", got, "1h 0m")
	}
	if got := snap.Timers[1].Countdown; got != "1d 0h" {
		t.Errorf("Night Raid countdown = %q, want %q", got, "1d 0h")
	}
	if snap.Timers[0].Next == nil || !snap.Timers[0].Next.Equal(testutil.Monday(14, 0)) {
		t.Errorf("Harvester next = %v, want %s", snap.Timers[0].Next, testutil.Monday(14, 0))
	}
}

func TestScheduler_LoadErrorYieldsEmpty(t *testing.T) {
	source := &mockSource{err: errors.New("connection refused")}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(source, clock)

	s.Load(context.Background())

	snap := pub.last()
	if snap.State != domain.SnapshotEmpty {
		t.Errorf("State = %q, want %q", snap.State, domain.SnapshotEmpty)
	}
	if snap.Message != domain.NoEventsMessage {
		t.Errorf("Message = %q, want %q", snap.Message, domain.NoEventsMessage)
	}
	if len(snap.Timers) != 0 {
		t.Errorf("expected no timers, got %d", len(snap.Timers))
	}
}

func TestScheduler_LoadEmptyListYieldsEmpty(t *testing.T) {
	source := &mockSource{}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(source, clock)

	s.Load(context.Background())

	if got := pub.last().State; got != domain.SnapshotEmpty {
		t.Errorf("State = %q, want %q", got, domain.SnapshotEmpty)
	}
}

func TestScheduler_TickBeforeLoadIsLoading(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(&mockSource{}, clock)

	s.processTick(context.Background())

	if got := pub.last().State; got != domain.SnapshotLoading {
		t.Errorf("State = %q, want %q", got, domain.SnapshotLoading)
	}
}

func TestScheduler_TickRecomputesWithClock(t *testing.T) {
	source := &mockSource{timers: []domain.EventTimer{
		testutil.Timer("Harvester", []string{"Mon"}, "14:00"),
	}}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(source, clock)
	ctx := context.Background()

	s.Load(ctx)

	clock.Set(testutil.Monday(13, 59).Add(15 * time.Second))
	s.processTick(ctx)
	if got := pub.last().Timers[0].Countdown; got != "45s" {
		t.Errorf("countdown = %q, want %q", got, "45s")
	}

	// Once 14:00 passes, the countdown rolls over to next Monday.
	clock.Set(testutil.Monday(14, 0))
	s.processTick(ctx)
	if got := pub.last().Timers[0].Countdown; got != "7d 0h" {
		t.Errorf("countdown = %q, want %q", got, "7d 0h")
	}
}

func TestScheduler_AbsentTimerDoesNotAffectSiblings(t *testing.T) {
	source := &mockSource{timers: []domain.EventTimer{
		testutil.Timer("Broken", []string{"Someday"}, "99:99"),
		testutil.Timer("Harvester", []string{"Mon"}, "14:00"),
	}}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(source, clock)

	s.Load(context.Background())

	snap := pub.last()
	if snap.Timers[0].Countdown != countdown.NoUpcoming || snap.Timers[0].Next != nil {
		t.Errorf("broken timer = %+v, want no upcoming", snap.Timers[0])
	}
	if snap.Timers[1].Countdown != "1h 0m" {
		t.Errorf("Harvester countdown = %q, want %q", snap.Timers[1].Countdown, "1h 0m")
	}
}

func TestScheduler_SnapshotsShareOneInstant(t *testing.T) {
	source := &mockSource{timers: []domain.EventTimer{
		testutil.Timer("A", []string{"Mon"}, "14:00"),
		testutil.Timer("B", []string{"Mon"}, "15:00"),
	}}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(source, clock)

	s.Load(context.Background())

	snap := pub.last()
	for _, tc := range snap.Timers {
		if got := snap.ComputedAt.Add(tc.Remaining); !got.Equal(*tc.Next) {
			t.Errorf("%s: ComputedAt+Remaining = %s, Next = %s", tc.Timer.Name, got, tc.Next)
		}
	}
}

func TestScheduler_SeqIncreases(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(&mockSource{}, clock)
	ctx := context.Background()

	s.Load(ctx)
	s.processTick(ctx)
	s.processTick(ctx)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i, snap := range pub.snapshots {
		if snap.Seq != uint64(i+1) {
			t.Errorf("snapshot %d Seq = %d, want %d", i, snap.Seq, i+1)
		}
	}
}

// steppingClock moves forward one millisecond on every read.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func TestScheduler_ComputedAtFollowsSeq(t *testing.T) {
	source := &mockSource{timers: []domain.EventTimer{
		testutil.Timer("Harvester", []string{"Mon"}, "14:00"),
	}}
	clock := &steppingClock{now: testutil.Monday(13, 0)}
	pub := &mockPublisher{}
	s := New(Config{TickInterval: time.Second}, source, pub).WithClock(clock.Now)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if (g+i)%2 == 0 {
					s.Load(ctx)
				} else {
					s.processTick(ctx)
				}
			}
		}(g)
	}
	wg.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.snapshots) != 400 {
		t.Fatalf("expected 400 snapshots, got %d", len(pub.snapshots))
	}
	for i := 1; i < len(pub.snapshots); i++ {
		prev, cur := pub.snapshots[i-1], pub.snapshots[i]
		if cur.Seq != prev.Seq+1 {
			t.Fatalf("seq %d followed by %d", prev.Seq, cur.Seq)
		}
		if cur.ComputedAt.Before(prev.ComputedAt) {
			t.Fatalf("seq %d computed at %s, earlier than seq %d at %s",
				cur.Seq, cur.ComputedAt, prev.Seq, prev.ComputedAt)
		}
	}
}

func TestScheduler_Retry(t *testing.T) {
	source := &mockSource{err: errors.New("boom")}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(source, clock)
	ctx := context.Background()

	s.Load(ctx)
	if pub.last().State != domain.SnapshotEmpty {
		t.Fatalf("expected empty state after failed load")
	}

	source.mu.Lock()
	source.err = nil
	source.timers = []domain.EventTimer{testutil.Timer("Harvester", []string{"Mon"}, "14:00")}
	source.mu.Unlock()

	s.Retry(ctx)

	if source.callCount() != 2 {
		t.Errorf("expected 2 fetches, got %d", source.callCount())
	}
	if got := pub.last().State; got != domain.SnapshotReady {
		t.Errorf("State after retry = %q, want %q", got, domain.SnapshotReady)
	}
}

func TestScheduler_RunPublishesEveryTick(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(&mockSource{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for pub.count() < 3 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("expected at least 3 ticks, got %d", pub.count())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScheduler_NoPublishAfterCancel(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, pub := newTestScheduler(&mockSource{}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	before := pub.count()
	time.Sleep(30 * time.Millisecond)
	s.Load(context.Background())
	s.processTick(context.Background())

	if after := pub.count(); after != before {
		t.Errorf("published %d snapshots after cancel", after-before)
	}
}

// mockMetrics tracks calls to MetricsSink methods.
type mockMetrics struct {
	mu            sync.Mutex
	ticksStarted  int
	ticksDone     int
	lastTimers    int
	lastAbsent    int
	loads         int
	lastLoadCount int
	lastLoadErr   error
}

func (m *mockMetrics) TickStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticksStarted++
}

func (m *mockMetrics) TickCompleted(duration time.Duration, timers int, withoutOccurrence int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticksDone++
	m.lastTimers = timers
	m.lastAbsent = withoutOccurrence
}

func (m *mockMetrics) TimersLoaded(count int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	m.lastLoadCount = count
	m.lastLoadErr = err
}

func TestScheduler_WithMetrics(t *testing.T) {
	source := &mockSource{timers: []domain.EventTimer{
		testutil.Timer("Harvester", []string{"Mon"}, "14:00"),
		testutil.Timer("Broken", nil, "14:00"),
	}}
	clock := testutil.NewFakeClock(testutil.Monday(13, 0))
	s, _ := newTestScheduler(source, clock)
	metrics := &mockMetrics{}
	s = s.WithMetrics(metrics)
	ctx := context.Background()

	s.Load(ctx)
	s.processTick(ctx)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.loads != 1 || metrics.lastLoadCount != 2 || metrics.lastLoadErr != nil {
		t.Errorf("TimersLoaded: loads=%d count=%d err=%v", metrics.loads, metrics.lastLoadCount, metrics.lastLoadErr)
	}
	if metrics.ticksStarted != 1 || metrics.ticksDone != 1 {
		t.Errorf("ticks started=%d done=%d, want 1/1", metrics.ticksStarted, metrics.ticksDone)
	}
	if metrics.lastTimers != 2 || metrics.lastAbsent != 1 {
		t.Errorf("TickCompleted timers=%d absent=%d, want 2/1", metrics.lastTimers, metrics.lastAbsent)
	}
}

func TestNew_DefaultTickInterval(t *testing.T) {
	s := New(Config{}, &mockSource{}, &mockPublisher{})
	if s.config.TickInterval != DefaultTickInterval {
		t.Errorf("TickInterval = %s, want %s", s.config.TickInterval, DefaultTickInterval)
	}
}
