package leader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestElectorAcquiresImmediately(t *testing.T) {
	var elected atomic.Int32
	e := New(
		func(context.Context) (bool, error) { return true, nil },
		time.Hour,
		func(context.Context) func() { elected.Add(1); return func() {} },
	)
	e.Start(context.Background())
	defer e.Stop()

	waitFor(t, e.IsLeader)
	assert.Equal(t, int32(1), elected.Load())
}

func TestElectorRetriesUntilAcquired(t *testing.T) {
	var attempts atomic.Int32
	e := New(
		func(context.Context) (bool, error) {
			return attempts.Add(1) >= 3, nil
		},
		time.Millisecond,
		func(context.Context) func() { return func() {} },
	)
	e.Start(context.Background())
	defer e.Stop()

	waitFor(t, e.IsLeader)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestElectorStandbyOnHeldLock(t *testing.T) {
	var elected atomic.Int32
	e := New(
		func(context.Context) (bool, error) { return false, nil },
		time.Millisecond,
		func(context.Context) func() { elected.Add(1); return func() {} },
	)
	e.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	assert.False(t, e.IsLeader())
	assert.Equal(t, int32(0), elected.Load())
}

func TestElectorStopCallsWorkerStop(t *testing.T) {
	var stopped atomic.Int32
	e := New(
		func(context.Context) (bool, error) { return true, nil },
		time.Hour,
		func(context.Context) func() {
			return func() { stopped.Add(1) }
		},
	)
	e.Start(context.Background())
	waitFor(t, e.IsLeader)

	e.Stop()
	require.Equal(t, int32(1), stopped.Load())
	assert.False(t, e.IsLeader())
}

func TestElectorSurvivesLockErrors(t *testing.T) {
	var attempts atomic.Int32
	e := New(
		func(context.Context) (bool, error) {
			if attempts.Add(1) < 2 {
				return false, errors.New("connection reset")
			}
			return true, nil
		},
		time.Millisecond,
		func(context.Context) func() { return func() {} },
	)
	e.Start(context.Background())
	defer e.Stop()

	waitFor(t, e.IsLeader)
}

func TestElectorDoesNotReelectWhileLeading(t *testing.T) {
	var elected atomic.Int32
	e := New(
		func(context.Context) (bool, error) { return true, nil },
		time.Millisecond,
		func(context.Context) func() { elected.Add(1); return func() {} },
	)
	e.Start(context.Background())
	defer e.Stop()

	waitFor(t, e.IsLeader)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), elected.Load())
}
