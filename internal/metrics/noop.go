package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                            {}
func (n *NoopSink) TickCompleted(duration time.Duration, timers int, withoutOccurrence int) {}
func (n *NoopSink) TimersLoaded(count int, err error)                                       {}
func (n *NoopSink) SubscribersUpdate(count int)                                             {}
func (n *NoopSink) SnapshotPublished(timers int)                                            {}
func (n *NoopSink) UpstreamRequest(endpoint, statusClass string, duration time.Duration)    {}
func (n *NoopSink) CacheLookup(hit bool)                                                    {}
func (n *NoopSink) CacheFallback(endpoint string)                                           {}
func (n *NoopSink) RefreshCompleted(target string, count int, err error)                    {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                       {}
func (n *NoopSink) LeaderLost(reason string)                                                {}
