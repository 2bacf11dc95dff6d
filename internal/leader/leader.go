// Package leader elects a single active eventsched against a shared
// database using a Postgres advisory lock. Several observers can run the
// full daemon set; only the lock holder syncs the event catalogue and
// fetches rosters, so the upstream platform sees one client. The lock dies
// with the holder's session and another instance takes over on its next
// retry.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LockID is the advisory lock key for the event scheduler. Distinct from
// the migration lock key.
const LockID int64 = 974_003_117_244

// RetryInterval is how often a standby retries the lock.
const RetryInterval = 30 * time.Second

// TryLock attempts the advisory lock, reporting whether it was acquired.
// Production wires pg_try_advisory_lock through the pgx pool:
//
//	leader.New(func(ctx context.Context) (bool, error) {
//		var ok bool
//		err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.LockID).Scan(&ok)
//		return ok, err
//	}, leader.RetryInterval, onElected)
type TryLock func(ctx context.Context) (bool, error)

// OnElected starts the workers when this instance wins the lock. The
// returned stop function is called when leadership ends.
type OnElected func(ctx context.Context) (stop func())

// Elector retries the lock until acquired, then holds it for the life of
// the process.
type Elector struct {
	tryLock   TryLock
	retry     time.Duration
	onElected OnElected

	mu      sync.Mutex
	leading bool
	stopFn  func()

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Elector. onElected runs at most once per leadership term.
func New(tryLock TryLock, retry time.Duration, onElected OnElected) *Elector {
	return &Elector{tryLock: tryLock, retry: retry, onElected: onElected}
}

// Start launches the election loop. The first attempt happens immediately.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		e.tryAcquire(ctx)

		ticker := time.NewTicker(e.retry)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.relinquish()
				return
			case <-ticker.C:
				e.tryAcquire(ctx)
			}
		}
	}()
}

// Stop ends the election loop, stopping the workers if this instance
// leads. The advisory lock itself is released by the database when the
// session closes.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// IsLeader reports whether this instance holds the lock.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leading
}

func (e *Elector) tryAcquire(ctx context.Context) {
	e.mu.Lock()
	leading := e.leading
	e.mu.Unlock()
	if leading {
		return
	}

	ok, err := e.tryLock(ctx)
	if err != nil {
		slog.Error("leader: advisory lock attempt failed", "error", err)
		return
	}
	if !ok {
		slog.Debug("leader: standby, lock held elsewhere")
		return
	}

	slog.Info("leader: lock acquired, starting scheduler")
	e.mu.Lock()
	e.leading = true
	e.mu.Unlock()

	stop := e.onElected(ctx)

	e.mu.Lock()
	e.stopFn = stop
	e.mu.Unlock()
}

func (e *Elector) relinquish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.leading {
		return
	}
	slog.Info("leader: leadership ended, stopping scheduler")
	if e.stopFn != nil {
		e.stopFn()
		e.stopFn = nil
	}
	e.leading = false
}
