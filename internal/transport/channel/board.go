// Package channel carries countdown snapshots from the ticker to displays.
//
// The board holds a single slot: every Publish replaces the previous
// snapshot. Subscribers always receive the newest snapshot and may skip
// intermediate ones, but never receive a partially updated list.
package channel

import (
	"context"
	"sync"

	"github.com/djlord-it/arc-companion/internal/domain"
)

// MetricsSink defines the interface for recording board metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SubscribersUpdate(count int)
	SnapshotPublished(timers int)
}

// Option configures a Board.
type Option func(*Board)

// WithMetrics attaches a metrics sink to the board.
func WithMetrics(sink MetricsSink) Option {
	return func(b *Board) {
		b.metrics = sink
	}
}

type subscriber struct {
	ch chan domain.Snapshot
}

type Board struct {
	mu      sync.Mutex
	latest  domain.Snapshot
	has     bool
	closed  bool
	subs    map[*subscriber]struct{}
	metrics MetricsSink
}

func NewBoard(opts ...Option) *Board {
	b := &Board{
		subs: make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish replaces the current snapshot and hands it to every subscriber.
// It never blocks. Publishing to a closed board is a no-op.
func (b *Board) Publish(s domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.latest = s
	b.has = true

	for sub := range b.subs {
		// Drop the stale value, if any, so the slot holds only the newest.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- s:
		default:
		}
	}

	if b.metrics != nil {
		b.metrics.SnapshotPublished(len(s.Timers))
	}
}

// Latest returns the most recently published snapshot.
func (b *Board) Latest() (domain.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.has
}

// Subscribe returns a channel that receives the current snapshot (if any)
// followed by every newer one. The channel is closed when ctx is done or
// the board is closed.
func (b *Board) Subscribe(ctx context.Context) <-chan domain.Snapshot {
	sub := &subscriber{ch: make(chan domain.Snapshot, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	if b.has {
		sub.ch <- b.latest
	}
	b.subs[sub] = struct{}{}
	b.reportSubscribers()
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(sub)
	}()

	return sub.ch
}

func (b *Board) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	b.reportSubscribers()
}

// Close closes every subscriber channel and rejects further publishes.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.reportSubscribers()
}

// reportSubscribers must be called with b.mu held.
func (b *Board) reportSubscribers() {
	if b.metrics != nil {
		b.metrics.SubscribersUpdate(len(b.subs))
	}
}
