// Package refresher periodically re-fetches upstream content.
//
// On every activation of the refresh schedule it reloads the event-timer
// list of the countdown scheduler and copies items and quests into the
// local store. Each target is refreshed independently: a failure in one is
// logged and does not stop the others. The time of the last complete
// refresh is recorded in the state table under StateLastRefresh.
package refresher

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/arc-companion/internal/cron"
	"github.com/djlord-it/arc-companion/internal/domain"
)

const (
	StateLastRefresh = "last_refresh"

	TargetItems  = "items"
	TargetQuests = "quests"
	TargetTimers = "timers"

	DefaultPageSize = 100
)

// Source fetches content from the upstream API.
type Source interface {
	AllItems(ctx context.Context, pageSize int) ([]domain.Item, error)
	Quests(ctx context.Context) ([]domain.Quest, error)
}

// Store persists refreshed content.
type Store interface {
	ReplaceItems(ctx context.Context, items []domain.Item) error
	ReplaceQuests(ctx context.Context, quests []domain.Quest) error
	PutState(ctx context.Context, key, value string, updatedAt time.Time) error
}

// Loader reloads the event-timer list.
type Loader interface {
	Load(ctx context.Context)
}

// MetricsSink defines the interface for recording refresher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RefreshCompleted(target string, count int, err error)
}

type Config struct {
	Schedule cron.Schedule
	PageSize int
}

type Refresher struct {
	config  Config
	source  Source
	store   Store
	loader  Loader
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New builds a refresher. A nil store skips the content copy and a nil
// loader skips the timer reload, so one instance can run either half.
func New(config Config, source Source, store Store, loader Loader) *Refresher {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	return &Refresher{
		config: config,
		source: source,
		store:  store,
		loader: loader,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the refresher.
func (r *Refresher) WithMetrics(sink MetricsSink) *Refresher {
	r.metrics = sink
	return r
}

func (r *Refresher) WithClock(clock func() time.Time) *Refresher {
	r.clock = clock
	return r
}

// Run refreshes immediately, then on every activation of the schedule.
// It blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	log.Printf("refresher: started (next=%s)", r.config.Schedule.Next(r.clock()).Format(time.RFC3339))

	r.RunOnce(ctx)

	for {
		timer := time.NewTimer(cron.Until(r.config.Schedule, r.clock()))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("refresher: stopped")
			return
		case <-timer.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every target and reports whether all succeeded.
// Event timers are reloaded first so the countdown list is not held up
// by the slower content copy.
func (r *Refresher) RunOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	start := r.clock()
	ok := true

	if r.loader != nil {
		r.loader.Load(ctx)
		r.record(TargetTimers, 0, nil)
	}

	if r.store != nil {
		ok = r.refreshItems(ctx) && ok
		if ctx.Err() != nil {
			log.Println("refresher: cycle interrupted")
			return false
		}
		ok = r.refreshQuests(ctx) && ok

		if ok {
			now := r.clock()
			if err := r.store.PutState(ctx, StateLastRefresh, now.UTC().Format(time.RFC3339), now); err != nil {
				log.Printf("refresher: failed to record last refresh: %v", err)
			}
		}
	}

	log.Printf("refresher: cycle complete, ok=%t, duration=%s", ok, r.clock().Sub(start).Round(time.Millisecond))
	return ok
}

func (r *Refresher) refreshItems(ctx context.Context) bool {
	items, err := r.source.AllItems(ctx, r.config.PageSize)
	if err == nil {
		err = r.store.ReplaceItems(ctx, items)
	}
	r.record(TargetItems, len(items), err)
	if err != nil {
		log.Printf("refresher: items failed: %v", err)
		return false
	}
	log.Printf("refresher: items refreshed, count=%d", len(items))
	return true
}

func (r *Refresher) refreshQuests(ctx context.Context) bool {
	quests, err := r.source.Quests(ctx)
	if err == nil {
		err = r.store.ReplaceQuests(ctx, quests)
	}
	r.record(TargetQuests, len(quests), err)
	if err != nil {
		log.Printf("refresher: quests failed: %v", err)
		return false
	}
	log.Printf("refresher: quests refreshed, count=%d", len(quests))
	return true
}

func (r *Refresher) record(target string, count int, err error) {
	if r.metrics != nil {
		r.metrics.RefreshCompleted(target, count, err)
	}
}
