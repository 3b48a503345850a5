package board

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("grants a free lock and writes the lease", func(t *testing.T) {
		result, holder, err := client.AcquireLock(ctx, "src/main.go", "coder-1", 0, 1000, 6000)
		require.NoError(t, err)
		assert.Equal(t, AcquireGranted, result)
		assert.Equal(t, "coder-1", holder)

		lease, err := client.GetLease(ctx, "src/main.go")
		require.NoError(t, err)
		require.NotNil(t, lease)
		assert.Equal(t, "coder-1", lease.Holder)
		assert.Equal(t, int64(1000), lease.AcquiredAtMs)
		assert.Equal(t, int64(6000), lease.ExpiresAtMs)
	})

	t.Run("re-entry by the holder leaves the lease untouched", func(t *testing.T) {
		result, _, err := client.AcquireLock(ctx, "src/main.go", "coder-1", 0, 2000, 7000)
		require.NoError(t, err)
		assert.Equal(t, AcquireReentry, result)

		lease, err := client.GetLease(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, int64(6000), lease.ExpiresAtMs)
	})

	t.Run("contention reports the current holder", func(t *testing.T) {
		result, holder, err := client.AcquireLock(ctx, "src/main.go", "coder-2", 0, 3000, 8000)
		require.NoError(t, err)
		assert.Equal(t, AcquireHeld, result)
		assert.Equal(t, "coder-1", holder)
	})

	t.Run("enforces the per-agent cap", func(t *testing.T) {
		result, _, err := client.AcquireLock(ctx, "a.go", "capped", 2, 1000, 6000)
		require.NoError(t, err)
		require.Equal(t, AcquireGranted, result)
		result, _, err = client.AcquireLock(ctx, "b.go", "capped", 2, 1000, 6000)
		require.NoError(t, err)
		require.Equal(t, AcquireGranted, result)

		result, _, err = client.AcquireLock(ctx, "c.go", "capped", 2, 1000, 6000)
		require.NoError(t, err)
		assert.Equal(t, AcquireMaxLocks, result)
	})
}

func TestReleaseLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, _, err := client.AcquireLock(ctx, "src/main.go", "coder-1", 0, 1000, 6000)
	require.NoError(t, err)

	t.Run("non-holder release changes nothing", func(t *testing.T) {
		result, holder, err := client.ReleaseLock(ctx, "src/main.go", "coder-2")
		require.NoError(t, err)
		assert.Equal(t, ReleaseNotHolder, result)
		assert.Equal(t, "coder-1", holder)

		current, err := client.LockHolder(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, "coder-1", current)
	})

	t.Run("holder release clears holder, lease and agent set", func(t *testing.T) {
		result, _, err := client.ReleaseLock(ctx, "src/main.go", "coder-1")
		require.NoError(t, err)
		assert.Equal(t, ReleaseDone, result)

		holder, err := client.LockHolder(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Empty(t, holder)

		lease, err := client.GetLease(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Nil(t, lease)

		held, err := client.AgentLockSet(ctx, "coder-1")
		require.NoError(t, err)
		assert.Empty(t, held)
	})

	t.Run("releasing an unlocked resource reports it", func(t *testing.T) {
		result, _, err := client.ReleaseLock(ctx, "src/main.go", "coder-1")
		require.NoError(t, err)
		assert.Equal(t, ReleaseUnlocked, result)
	})
}

func TestForceReleaseLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, _, err := client.AcquireLock(ctx, "src/main.go", "coder-1", 0, 1000, 6000)
	require.NoError(t, err)

	t.Run("displaces the holder", func(t *testing.T) {
		holder, released, err := client.ForceReleaseLock(ctx, "src/main.go")
		require.NoError(t, err)
		assert.True(t, released)
		assert.Equal(t, "coder-1", holder)

		current, err := client.LockHolder(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Empty(t, current)
	})

	t.Run("forcing an unlocked resource is a no-op", func(t *testing.T) {
		_, released, err := client.ForceReleaseLock(ctx, "src/main.go")
		require.NoError(t, err)
		assert.False(t, released)
	})
}

func TestExtendLockLease(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, _, err := client.AcquireLock(ctx, "src/main.go", "coder-1", 0, 1000, 6000)
	require.NoError(t, err)

	t.Run("holder pushes the deadline out", func(t *testing.T) {
		extended, err := client.ExtendLockLease(ctx, "src/main.go", "coder-1", 9000)
		require.NoError(t, err)
		assert.True(t, extended)

		lease, err := client.GetLease(ctx, "src/main.go")
		require.NoError(t, err)
		assert.Equal(t, int64(9000), lease.ExpiresAtMs)
		assert.Equal(t, int64(1000), lease.AcquiredAtMs)
	})

	t.Run("non-holder cannot extend", func(t *testing.T) {
		extended, err := client.ExtendLockLease(ctx, "src/main.go", "coder-2", 12_000)
		require.NoError(t, err)
		assert.False(t, extended)
	})
}

func TestLockAudit(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	events := []*LockEvent{
		{TimestampMs: 1000, ResourceID: "a.go", AgentID: "coder-1", Type: LockEventAcquired},
		{TimestampMs: 2000, ResourceID: "a.go", AgentID: "coder-1", Type: LockEventReleased},
		{TimestampMs: 3000, ResourceID: "b.go", AgentID: "coder-2", Type: LockEventAcquired},
	}
	for _, ev := range events {
		require.NoError(t, client.AppendLockEvent(ctx, ev))
	}

	t.Run("returns entries in append order", func(t *testing.T) {
		got, err := client.LockEvents(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, events, got)
	})

	t.Run("limit returns only the newest", func(t *testing.T) {
		got, err := client.LockEvents(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, events[1:], got)
	})

	t.Run("trim drops the oldest beyond the cap", func(t *testing.T) {
		removed, err := client.TrimLockAudit(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		got, err := client.LockEvents(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, events[1:], got)

		// Already under the cap: nothing removed
		removed, err = client.TrimLockAudit(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(0), removed)
	})

	t.Run("rejects invalid events", func(t *testing.T) {
		err := client.AppendLockEvent(ctx, &LockEvent{Type: LockEventAcquired})
		assert.Error(t, err)
	})
}
