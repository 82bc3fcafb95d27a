package domain

import (
	"time"

	"github.com/google/uuid"
)

type SnapshotState string

const (
	SnapshotLoading SnapshotState = "loading"
	SnapshotReady   SnapshotState = "ready"
	SnapshotEmpty   SnapshotState = "empty"
)

// NoEventsMessage accompanies an empty snapshot.
const NoEventsMessage = "No events found"

// TimerCountdown pairs a timer with its countdown for one tick.
type TimerCountdown struct {
	Timer     EventTimer
	Countdown string
	Next      *time.Time // nil when the timer has no upcoming occurrence
	Remaining time.Duration
}

// Snapshot is the full countdown list computed on a single tick.
type Snapshot struct {
	SessionID  uuid.UUID
	Seq        uint64 // increases by one per publish within a session
	ComputedAt time.Time
	State      SnapshotState
	Message    string
	Timers     []TimerCountdown
}
