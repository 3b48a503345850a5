package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/pkg/board"
)

// setupTestManager creates a manager over a miniredis-backed board client with
// a controllable clock.
func setupTestManager(t *testing.T, cfg config.LockConfig) (*Manager, *fakeClock, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	m := NewManager(client, cfg)
	m.now = clock.Now

	return m, clock, mr
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func defaultLockConfig() config.LockConfig {
	return config.LockConfig{
		LeaseDuration:    config.Duration(5 * time.Minute),
		MaxLocksPerAgent: 16,
		AuditRetention:   100,
	}
}

func TestAcquire(t *testing.T) {
	m, _, _ := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	t.Run("grants a free lock", func(t *testing.T) {
		granted, err := m.Acquire(ctx, "src/main.go", "coder-1")
		require.NoError(t, err)
		assert.True(t, granted)

		holder, err := m.HolderOf(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, "coder-1", holder)
	})

	t.Run("re-entry succeeds without a second audit event", func(t *testing.T) {
		granted, err := m.Acquire(ctx, "src/main.go", "coder-1")
		require.NoError(t, err)
		assert.True(t, granted)

		events, err := m.Events(ctx, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, board.LockEventAcquired, events[0].Type)
	})

	t.Run("contention returns false with no side effects", func(t *testing.T) {
		granted, err := m.Acquire(ctx, "src/main.go", "coder-2")
		require.NoError(t, err)
		assert.False(t, granted)

		holder, err := m.HolderOf(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, "coder-1", holder)

		held, err := m.LocksOfAgent(ctx, "coder-2")
		require.NoError(t, err)
		assert.Empty(t, held)
	})

	t.Run("rejects empty identifiers", func(t *testing.T) {
		_, err := m.Acquire(ctx, "", "coder-1")
		assert.Error(t, err)
		_, err = m.Acquire(ctx, "src/main.go", "")
		assert.Error(t, err)
	})
}

func TestAcquireCap(t *testing.T) {
	cfg := defaultLockConfig()
	cfg.MaxLocksPerAgent = 2
	m, _, _ := setupTestManager(t, cfg)
	ctx := context.Background()

	for _, resource := range []string{"a.go", "b.go"} {
		granted, err := m.Acquire(ctx, resource, "coder-1")
		require.NoError(t, err)
		require.True(t, granted)
	}

	_, err := m.Acquire(ctx, "c.go", "coder-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyLocks)
}

func TestRelease(t *testing.T) {
	m, _, _ := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	granted, err := m.Acquire(ctx, "src/main.go", "coder-1")
	require.NoError(t, err)
	require.True(t, granted)

	t.Run("non-holder release fails and changes nothing", func(t *testing.T) {
		err := m.Release(ctx, "src/main.go", "coder-2")
		assert.ErrorIs(t, err, ErrLockNotHeld)

		holder, err := m.HolderOf(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, "coder-1", holder)
	})

	t.Run("holder release frees the lock and audits it", func(t *testing.T) {
		require.NoError(t, m.Release(ctx, "src/main.go", "coder-1"))

		locked, err := m.IsLocked(ctx, "src/main.go")
		require.NoError(t, err)
		assert.False(t, locked)

		events, err := m.Events(ctx, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, board.LockEventReleased, events[1].Type)
	})

	t.Run("releasing an unheld lock fails", func(t *testing.T) {
		err := m.Release(ctx, "src/main.go", "coder-1")
		assert.ErrorIs(t, err, ErrLockNotHeld)
	})
}

func TestReleaseAll(t *testing.T) {
	m, _, _ := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	for _, resource := range []string{"a.go", "b.go", "c.go"} {
		granted, err := m.Acquire(ctx, resource, "coder-1")
		require.NoError(t, err)
		require.True(t, granted)
	}

	released := m.ReleaseAll(ctx, "coder-1")
	assert.Equal(t, 3, released)

	held, err := m.LocksOfAgent(ctx, "coder-1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestForceRelease(t *testing.T) {
	m, _, _ := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	granted, err := m.Acquire(ctx, "src/main.go", "coder-1")
	require.NoError(t, err)
	require.True(t, granted)

	t.Run("displaces the holder and records the reason", func(t *testing.T) {
		require.NoError(t, m.ForceRelease(ctx, "src/main.go", "resolution reassignment"))

		locked, err := m.IsLocked(ctx, "src/main.go")
		require.NoError(t, err)
		assert.False(t, locked)

		events, err := m.Events(ctx, 0)
		require.NoError(t, err)
		last := events[len(events)-1]
		assert.Equal(t, board.LockEventForceReleased, last.Type)
		assert.Equal(t, "coder-1", last.AgentID)
		assert.Equal(t, "resolution reassignment", last.Reason)
	})

	t.Run("forcing an unlocked resource is a no-op", func(t *testing.T) {
		before, err := m.Events(ctx, 0)
		require.NoError(t, err)

		require.NoError(t, m.ForceRelease(ctx, "src/main.go", "again"))

		after, err := m.Events(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})
}

func TestExtendLease(t *testing.T) {
	m, clock, _ := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	granted, err := m.Acquire(ctx, "src/main.go", "coder-1")
	require.NoError(t, err)
	require.True(t, granted)

	original, err := m.LeaseOf(ctx, "src/main.go")
	require.NoError(t, err)

	t.Run("re-acquire does not move the lease", func(t *testing.T) {
		clock.Advance(time.Minute)
		granted, err := m.Acquire(ctx, "src/main.go", "coder-1")
		require.NoError(t, err)
		require.True(t, granted)

		lease, err := m.LeaseOf(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, original.ExpiresAtMs, lease.ExpiresAtMs)
	})

	t.Run("extend moves it out from now", func(t *testing.T) {
		require.NoError(t, m.ExtendLease(ctx, "src/main.go", "coder-1"))

		lease, err := m.LeaseOf(ctx, "src/main.go")
		require.NoError(t, err)
		expected := clock.Now().UnixMilli() + (5 * time.Minute).Milliseconds()
		assert.Equal(t, expected, lease.ExpiresAtMs)
	})

	t.Run("non-holder cannot extend", func(t *testing.T) {
		err := m.ExtendLease(ctx, "src/main.go", "coder-2")
		assert.ErrorIs(t, err, ErrLockNotHeld)
	})
}

func TestSweepExpired(t *testing.T) {
	m, clock, _ := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	granted, err := m.Acquire(ctx, "a.go", "coder-1")
	require.NoError(t, err)
	require.True(t, granted)

	clock.Advance(time.Minute)
	granted, err = m.Acquire(ctx, "b.go", "coder-2")
	require.NoError(t, err)
	require.True(t, granted)

	t.Run("nothing expires before the lease runs out", func(t *testing.T) {
		expired, err := m.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("only past-lease locks are released", func(t *testing.T) {
		// a.go's lease is now past; b.go still has a minute left
		clock.Advance(4 * time.Minute)

		expired, err := m.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.go"}, expired)

		locked, err := m.IsLocked(ctx, "a.go")
		require.NoError(t, err)
		assert.False(t, locked)

		holder, err := m.HolderOf(ctx, "b.go")
		require.NoError(t, err)
		assert.Equal(t, "coder-2", holder)

		events, err := m.Events(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, board.LockEventExpired, events[0].Type)
	})

	t.Run("freed resource is acquirable again", func(t *testing.T) {
		granted, err := m.Acquire(ctx, "a.go", "coder-3")
		require.NoError(t, err)
		assert.True(t, granted)
	})
}

func TestTrimAudit(t *testing.T) {
	cfg := defaultLockConfig()
	cfg.AuditRetention = 4
	m, _, _ := setupTestManager(t, cfg)
	ctx := context.Background()

	// Generate 6 events: 3 acquire/release pairs
	for i := 0; i < 3; i++ {
		granted, err := m.Acquire(ctx, "a.go", "coder-1")
		require.NoError(t, err)
		require.True(t, granted)
		require.NoError(t, m.Release(ctx, "a.go", "coder-1"))
	}

	removed, err := m.TrimAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	events, err := m.Events(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	// Newest entries survive, in order
	assert.Equal(t, board.LockEventAcquired, events[0].Type)
	assert.Equal(t, board.LockEventReleased, events[3].Type)
}

func TestValidateConsistency(t *testing.T) {
	m, _, mr := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	t.Run("clean state passes", func(t *testing.T) {
		granted, err := m.Acquire(ctx, "a.go", "coder-1")
		require.NoError(t, err)
		require.True(t, granted)

		assert.NoError(t, m.ValidateConsistency(ctx))
	})

	t.Run("detects a holder without a lease", func(t *testing.T) {
		// Inject drift directly under the manager
		mr.HSet(board.LockHoldersKey("test-instance"), "ghost.go", "coder-9")

		err := m.ValidateConsistency(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLockConsistency)
		assert.Contains(t, err.Error(), "ghost.go")
	})
}

func TestCollectStats(t *testing.T) {
	m, _, _ := setupTestManager(t, defaultLockConfig())
	ctx := context.Background()

	for _, resource := range []string{"a.go", "b.go"} {
		granted, err := m.Acquire(ctx, resource, "coder-1")
		require.NoError(t, err)
		require.True(t, granted)
	}
	granted, err := m.Acquire(ctx, "c.go", "coder-2")
	require.NoError(t, err)
	require.True(t, granted)
	require.NoError(t, m.Release(ctx, "c.go", "coder-2"))

	stats, err := m.CollectStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.HeldCount)
	assert.Equal(t, 2, stats.LocksPerAgent["coder-1"])
	assert.Equal(t, int64(3), stats.EventCounts[board.LockEventAcquired])
	assert.Equal(t, int64(1), stats.EventCounts[board.LockEventReleased])
}
