package board

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Lock primitives
//
// Lock transitions run as Lua scripts so that concurrent acquires on the same
// resource resolve atomically to exactly one winner, and the holder entry,
// lease metadata and per-agent index never drift apart mid-operation.
//
// The holders hash maps resource_id → agent_id. The leases hash maps
// resource_id → JSON-encoded Lease. Each agent additionally has a set of the
// resources it holds, used for the per-agent lock cap and ReleaseAll.

// AcquireResult is the outcome of an atomic lock acquisition attempt.
type AcquireResult string

const (
	// AcquireGranted means the lock was free and is now held by the caller
	AcquireGranted AcquireResult = "granted"

	// AcquireReentry means the caller already held the lock; the lease is unchanged
	AcquireReentry AcquireResult = "reentry"

	// AcquireHeld means another agent holds the lock; nothing changed
	AcquireHeld AcquireResult = "held"

	// AcquireMaxLocks means the caller is at its concurrent lock cap
	AcquireMaxLocks AcquireResult = "max_locks"
)

// ReleaseResult is the outcome of an atomic lock release attempt.
type ReleaseResult string

const (
	// ReleaseDone means the caller held the lock and it is now free
	ReleaseDone ReleaseResult = "released"

	// ReleaseUnlocked means the resource was not locked at all
	ReleaseUnlocked ReleaseResult = "unlocked"

	// ReleaseNotHolder means a different agent holds the lock; nothing changed
	ReleaseNotHolder ReleaseResult = "not_holder"
)

var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], ARGV[1])
if holder == ARGV[2] then
  return 'reentry'
end
if holder then
  return 'held:' .. holder
end
local agentLocks = ARGV[6] .. ARGV[2]
local cap = tonumber(ARGV[3])
if cap > 0 and redis.call('SCARD', agentLocks) >= cap then
  return 'max_locks'
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('SADD', agentLocks, ARGV[1])
local lease = cjson.encode({holder=ARGV[2], acquired_at_ms=tonumber(ARGV[4]), expires_at_ms=tonumber(ARGV[5])})
redis.call('HSET', KEYS[2], ARGV[1], lease)
return 'granted'
`)

var releaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], ARGV[1])
if not holder then
  return 'unlocked'
end
if holder ~= ARGV[2] then
  return 'not_holder:' .. holder
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('SREM', ARGV[3] .. ARGV[2], ARGV[1])
return 'released'
`)

var forceReleaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], ARGV[1])
if not holder then
  return 'unlocked'
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('SREM', ARGV[2] .. holder, ARGV[1])
return 'forced:' .. holder
`)

var extendLeaseScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], ARGV[1])
if holder ~= ARGV[2] then
  return 'not_holder'
end
local raw = redis.call('HGET', KEYS[2], ARGV[1])
if not raw then
  return 'no_lease'
end
local lease = cjson.decode(raw)
lease['expires_at_ms'] = tonumber(ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(lease))
return 'extended'
`)

// AcquireLock atomically attempts to grant resourceID to agentID.
// maxLocks caps the agent's concurrent holdings (0 = unlimited). The lease is
// stamped acquired_at=nowMs, expires_at=expiresMs. Re-entry by the current
// holder returns AcquireReentry without touching the lease.
//
// When another agent holds the lock, returns (AcquireHeld, holderID, nil) with
// no state change.
func (c *Client) AcquireLock(ctx context.Context, resourceID, agentID string, maxLocks int, nowMs, expiresMs int64) (AcquireResult, string, error) {
	keys := []string{LockHoldersKey(c.instanceName), LockLeasesKey(c.instanceName)}
	args := []interface{}{resourceID, agentID, maxLocks, nowMs, expiresMs, AgentLocksKeyPrefix(c.instanceName)}

	raw, err := acquireScript.Run(ctx, c.rdb, keys, args...).Text()
	if err != nil {
		return "", "", fmt.Errorf("acquire script failed: %w", err)
	}

	if holder, ok := strings.CutPrefix(raw, "held:"); ok {
		return AcquireHeld, holder, nil
	}

	return AcquireResult(raw), agentID, nil
}

// ReleaseLock atomically releases resourceID if agentID is the current holder.
// Returns the current holder alongside ReleaseNotHolder so callers can report
// who actually owns the lock.
func (c *Client) ReleaseLock(ctx context.Context, resourceID, agentID string) (ReleaseResult, string, error) {
	keys := []string{LockHoldersKey(c.instanceName), LockLeasesKey(c.instanceName)}
	args := []interface{}{resourceID, agentID, AgentLocksKeyPrefix(c.instanceName)}

	raw, err := releaseScript.Run(ctx, c.rdb, keys, args...).Text()
	if err != nil {
		return "", "", fmt.Errorf("release script failed: %w", err)
	}

	if holder, ok := strings.CutPrefix(raw, "not_holder:"); ok {
		return ReleaseNotHolder, holder, nil
	}

	return ReleaseResult(raw), agentID, nil
}

// ForceReleaseLock atomically releases resourceID regardless of holder.
// Returns the displaced holder and whether anything was released.
func (c *Client) ForceReleaseLock(ctx context.Context, resourceID string) (string, bool, error) {
	keys := []string{LockHoldersKey(c.instanceName), LockLeasesKey(c.instanceName)}
	args := []interface{}{resourceID, AgentLocksKeyPrefix(c.instanceName)}

	raw, err := forceReleaseScript.Run(ctx, c.rdb, keys, args...).Text()
	if err != nil {
		return "", false, fmt.Errorf("force release script failed: %w", err)
	}

	if holder, ok := strings.CutPrefix(raw, "forced:"); ok {
		return holder, true, nil
	}

	return "", false, nil
}

// ExtendLockLease atomically pushes the lease deadline out to expiresMs,
// provided agentID is the current holder and lease metadata exists.
// Returns false without error when the caller is not the holder.
func (c *Client) ExtendLockLease(ctx context.Context, resourceID, agentID string, expiresMs int64) (bool, error) {
	keys := []string{LockHoldersKey(c.instanceName), LockLeasesKey(c.instanceName)}
	args := []interface{}{resourceID, agentID, expiresMs}

	raw, err := extendLeaseScript.Run(ctx, c.rdb, keys, args...).Text()
	if err != nil {
		return false, fmt.Errorf("extend lease script failed: %w", err)
	}

	return raw == "extended", nil
}

// LockHolder returns the agent holding resourceID, or "" if unlocked.
func (c *Client) LockHolder(ctx context.Context, resourceID string) (string, error) {
	holder, err := c.rdb.HGet(ctx, LockHoldersKey(c.instanceName), resourceID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock holder: %w", err)
	}
	return holder, nil
}

// AllLockHolders returns the full resource → holder mapping.
func (c *Client) AllLockHolders(ctx context.Context) (map[string]string, error) {
	holders, err := c.rdb.HGetAll(ctx, LockHoldersKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read lock holders: %w", err)
	}
	return holders, nil
}

// GetLease returns the lease metadata for resourceID, or (nil, nil) if none.
func (c *Client) GetLease(ctx context.Context, resourceID string) (*Lease, error) {
	raw, err := c.rdb.HGet(ctx, LockLeasesKey(c.instanceName), resourceID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lease: %w", err)
	}

	var lease Lease
	if err := json.Unmarshal([]byte(raw), &lease); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	return &lease, nil
}

// AllLeases returns the full resource → lease mapping.
func (c *Client) AllLeases(ctx context.Context) (map[string]*Lease, error) {
	raw, err := c.rdb.HGetAll(ctx, LockLeasesKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leases: %w", err)
	}

	leases := make(map[string]*Lease, len(raw))
	for resourceID, leaseJSON := range raw {
		var lease Lease
		if err := json.Unmarshal([]byte(leaseJSON), &lease); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lease for %s: %w", resourceID, err)
		}
		leases[resourceID] = &lease
	}
	return leases, nil
}

// AgentLockSet returns the resources currently held by an agent.
func (c *Client) AgentLockSet(ctx context.Context, agentID string) ([]string, error) {
	resources, err := c.rdb.SMembers(ctx, AgentLocksKey(c.instanceName, agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent locks: %w", err)
	}
	return resources, nil
}

// AppendLockEvent appends an audit entry to the lock event log and publishes
// it on the lock events channel. The log is append-only; the only removal
// path is TrimLockAudit.
func (c *Client) AppendLockEvent(ctx context.Context, ev *LockEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid lock event: %w", err)
	}

	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal lock event: %w", err)
	}

	if err := c.rdb.RPush(ctx, LockAuditKey(c.instanceName), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to append lock event: %w", err)
	}

	if err := c.rdb.Publish(ctx, LockEventsChannel(c.instanceName), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish lock event: %w", err)
	}

	return nil
}

// LockEvents returns the audit log in append order. A limit of 0 returns
// everything; otherwise only the newest limit entries are returned.
func (c *Client) LockEvents(ctx context.Context, limit int) ([]*LockEvent, error) {
	key := LockAuditKey(c.instanceName)

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := c.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read lock audit: %w", err)
	}

	events := make([]*LockEvent, 0, len(raw))
	for _, entry := range raw {
		var ev LockEvent
		if err := json.Unmarshal([]byte(entry), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lock event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, nil
}

// AuditLen returns the number of entries in the lock audit log.
func (c *Client) AuditLen(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, LockAuditKey(c.instanceName)).Result()
}

// TrimLockAudit drops the oldest audit entries beyond cap, returning how many
// were removed. A cap of 0 disables trimming.
func (c *Client) TrimLockAudit(ctx context.Context, cap int) (int64, error) {
	if cap <= 0 {
		return 0, nil
	}

	key := LockAuditKey(c.instanceName)

	before, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read audit length: %w", err)
	}
	if before <= int64(cap) {
		return 0, nil
	}

	// Keep the newest cap entries
	if err := c.rdb.LTrim(ctx, key, int64(-cap), -1).Err(); err != nil {
		return 0, fmt.Errorf("failed to trim audit log: %w", err)
	}

	return before - int64(cap), nil
}
