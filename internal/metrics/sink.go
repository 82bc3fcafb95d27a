package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/djlord-it/arc-companion/internal/circuitbreaker"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, timers int, withoutOccurrence int)
	TimersLoaded(count int, err error)

	// Board metrics
	SubscribersUpdate(count int)
	SnapshotPublished(timers int)

	// Content API metrics
	UpstreamRequest(endpoint, statusClass string, duration time.Duration)
	CacheLookup(hit bool)
	CacheFallback(endpoint string)

	// Refresher metrics
	RefreshCompleted(target string, count int, err error)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// StatusClass constants for UpstreamRequest metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class. Typed
// errors are matched first; transports that only surface text fall back to
// message matching.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		return classifyError(err)
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}

func classifyError(err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return StatusClassCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusClassTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return StatusClassConnectionError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return StatusClassTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable"):
		return StatusClassConnectionError
	}
	return StatusClassOtherError
}
