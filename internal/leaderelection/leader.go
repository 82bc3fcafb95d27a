// Package leaderelection picks the one instance that copies upstream
// content into a shared store.
//
// Instances serving from the same Postgres database all reload their own
// countdown timers, but only the holder of a session-scoped advisory lock
// runs the content refresh. The lock lives as long as its dedicated
// connection; there is no TTL. If the connection dies, Postgres releases
// the lock server-side and another instance takes over on its next retry.
//
// The heartbeat ping only detects local connection death so the holder
// stops its duty promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	ReasonShutdown   = "shutdown"
	ReasonConnLost   = "conn_lost"
	ReasonDutyExited = "duty_exited"
)

// Locker acquires the election lock without blocking.
type Locker interface {
	// TryLock returns a held Lease, or ok=false when another instance
	// holds the lock.
	TryLock(ctx context.Context) (lease Lease, ok bool, err error)
}

// Lease is a held lock.
type Lease interface {
	Ping(ctx context.Context) error
	Release() error
}

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// Elector runs a duty while this instance holds the lock.
type Elector struct {
	locker            Locker
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping the lease
	metrics           MetricsSink   // optional, nil = disabled
}

func New(locker Locker, retryInterval, heartbeatInterval time.Duration) *Elector {
	return &Elector{
		locker:            locker,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run contends for the lock until ctx is cancelled. Each time the lock is
// won, duty runs with a context cancelled on loss of the lock; Run waits
// for duty to return before releasing the lock.
func (e *Elector) Run(ctx context.Context, duty func(ctx context.Context)) {
	log.Printf("leader: starting election loop (retry=%s, heartbeat=%s)", e.retryInterval, e.heartbeatInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason := e.runOnce(ctx, duty); reason != "" && ctx.Err() == nil {
			log.Printf("leader: lost refresh lock (reason=%s), will retry in %s", reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce tries the lock once and, if won, holds it while duty runs.
// Returns the reason the lock was given up ("" if it was not acquired).
func (e *Elector) runOnce(ctx context.Context, duty func(ctx context.Context)) string {
	lease, ok, err := e.locker.TryLock(ctx)
	if err != nil {
		log.Printf("leader: lock attempt failed: %v", err)
		return ""
	}
	if !ok {
		return ""
	}

	log.Println("leader: acquired refresh lock")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
	}

	dutyCtx, cancelDuty := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		duty(dutyCtx)
	}()

	reason := e.hold(ctx, lease, done)

	cancelDuty()
	<-done

	if err := lease.Release(); err != nil {
		log.Printf("leader: release failed: %v", err)
	}
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	log.Printf("leader: released refresh lock (reason=%s)", reason)
	return reason
}

func (e *Elector) hold(ctx context.Context, lease Lease, done <-chan struct{}) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-done:
			return ReasonDutyExited
		case <-ticker.C:
			if err := lease.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				log.Printf("leader: lock connection ping failed: %v", err)
				return ReasonConnLost
			}
		}
	}
}

// AdvisoryLocker takes a Postgres session-scoped advisory lock on a
// dedicated connection from db.
type AdvisoryLocker struct {
	db  *sqlx.DB
	key int64
}

func NewAdvisoryLocker(db *sqlx.DB, key int64) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, key: key}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context) (Lease, bool, error) {
	// Session-scoped: the lock belongs to this connection.
	conn, err := l.db.Connx(ctx)
	if err != nil {
		return nil, false, err
	}

	var acquired bool
	if err := conn.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}
	return &advisoryLease{conn: conn, key: l.key}, true, nil
}

type advisoryLease struct {
	conn *sqlx.Conn
	key  int64
}

func (a *advisoryLease) Ping(ctx context.Context) error {
	return a.conn.PingContext(ctx)
}

// Release unlocks and returns the connection to the pool. Closing alone
// would leave the session, and so the lock, alive in the pool.
func (a *advisoryLease) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", a.key)
	if cerr := a.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
