// Package lock implements the per-resource exclusive lock manager: leased
// ownership of opaque resource identifiers with an append-only audit trail.
//
// All state lives on the board; lock transitions run as atomic Redis scripts
// so concurrent acquires resolve to exactly one winner. The manager never
// self-schedules timers - lease expiry is discovered by SweepExpired, which
// the host invokes periodically.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/pkg/board"
)

var (
	// ErrLockNotHeld is returned when a release or lease extension names an
	// agent that is not the current holder. It indicates a bug in the caller.
	ErrLockNotHeld = errors.New("lock not held by agent")

	// ErrTooManyLocks is returned when an acquire would push the agent past
	// its configured concurrent lock cap.
	ErrTooManyLocks = errors.New("too many locks held by agent")

	// ErrLockConsistency is returned by ValidateConsistency when the holder
	// table and lease metadata have drifted apart. It signals corrupted
	// invariants: halt mutations on the named resource until cleared.
	ErrLockConsistency = errors.New("lock consistency violation")
)

// Manager owns resource-to-holder mapping, lease expiry and the audit log.
type Manager struct {
	client           *board.Client
	leaseDuration    time.Duration
	maxLocksPerAgent int
	auditRetention   int

	// now is injected for testability; defaults to time.Now.
	now func() time.Time
}

// NewManager creates a lock manager over the given board client.
func NewManager(client *board.Client, cfg config.LockConfig) *Manager {
	return &Manager{
		client:           client,
		leaseDuration:    cfg.LeaseDuration.Std(),
		maxLocksPerAgent: cfg.MaxLocksPerAgent,
		auditRetention:   cfg.AuditRetention,
		now:              time.Now,
	}
}

// Acquire attempts to grant resourceID to agentID without blocking.
//
// Returns (true, nil) when the lock is granted or the agent already holds it
// (idempotent re-entry; the lease is NOT reset - only ExtendLease does that).
// Returns (false, nil) when another agent holds the lock, with no side
// effects: the caller decides whether to retry, queue, or escalate to
// conflict resolution. Returns ErrTooManyLocks when the agent is at its
// concurrent lock cap.
//
// An Acquired audit event is emitted exactly once per holding period;
// re-entry emits nothing.
func (m *Manager) Acquire(ctx context.Context, resourceID, agentID string) (bool, error) {
	if resourceID == "" || agentID == "" {
		return false, fmt.Errorf("resource ID and agent ID are required")
	}

	nowMs := m.now().UnixMilli()
	expiresMs := nowMs + m.leaseDuration.Milliseconds()

	result, holder, err := m.client.AcquireLock(ctx, resourceID, agentID, m.maxLocksPerAgent, nowMs, expiresMs)
	if err != nil {
		return false, err
	}

	switch result {
	case board.AcquireGranted:
		m.appendEvent(ctx, resourceID, agentID, board.LockEventAcquired, "")
		return true, nil

	case board.AcquireReentry:
		return true, nil

	case board.AcquireHeld:
		log.Printf("[Lock] Acquire contention on %s: held by %s, requested by %s", resourceID, holder, agentID)
		return false, nil

	case board.AcquireMaxLocks:
		return false, fmt.Errorf("%w: %s at cap of %d", ErrTooManyLocks, agentID, m.maxLocksPerAgent)

	default:
		return false, fmt.Errorf("unexpected acquire result: %s", result)
	}
}

// Release frees resourceID provided agentID is the current holder.
// Releasing an unheld lock, or one held by someone else, fails with
// ErrLockNotHeld and changes nothing.
func (m *Manager) Release(ctx context.Context, resourceID, agentID string) error {
	result, holder, err := m.client.ReleaseLock(ctx, resourceID, agentID)
	if err != nil {
		return err
	}

	switch result {
	case board.ReleaseDone:
		m.appendEvent(ctx, resourceID, agentID, board.LockEventReleased, "")
		return nil

	case board.ReleaseUnlocked:
		return fmt.Errorf("%w: %s is not locked", ErrLockNotHeld, resourceID)

	case board.ReleaseNotHolder:
		return fmt.Errorf("%w: %s is held by %s, not %s", ErrLockNotHeld, resourceID, holder, agentID)

	default:
		return fmt.Errorf("unexpected release result: %s", result)
	}
}

// ReleaseAll frees every lock agentID holds. Best-effort: it continues past
// individual failures and returns how many locks were released. Used on
// disconnect/offline transition.
func (m *Manager) ReleaseAll(ctx context.Context, agentID string) int {
	resources, err := m.client.AgentLockSet(ctx, agentID)
	if err != nil {
		log.Printf("[Lock] ReleaseAll: failed to list locks for %s: %v", agentID, err)
		return 0
	}

	released := 0
	for _, resourceID := range resources {
		if err := m.Release(ctx, resourceID, agentID); err != nil {
			log.Printf("[Lock] ReleaseAll: failed to release %s for %s: %v", resourceID, agentID, err)
			continue
		}
		released++
	}
	return released
}

// ForceRelease frees resourceID regardless of holder. Administrative
// override used when a conflict resolution reassigns a resource; the reason
// lands in the ForceReleased audit event. Forcing an unlocked resource is a
// no-op, keeping resolution application idempotent.
func (m *Manager) ForceRelease(ctx context.Context, resourceID, reason string) error {
	holder, released, err := m.client.ForceReleaseLock(ctx, resourceID)
	if err != nil {
		return err
	}

	if released {
		m.appendEvent(ctx, resourceID, holder, board.LockEventForceReleased, reason)
	}
	return nil
}

// ExtendLease pushes resourceID's lease out to now + the configured lease
// duration. This is the only way a lease moves; re-acquiring does not reset
// it. Fails with ErrLockNotHeld if agentID is not the holder.
func (m *Manager) ExtendLease(ctx context.Context, resourceID, agentID string) error {
	expiresMs := m.now().UnixMilli() + m.leaseDuration.Milliseconds()

	extended, err := m.client.ExtendLockLease(ctx, resourceID, agentID, expiresMs)
	if err != nil {
		return err
	}
	if !extended {
		return fmt.Errorf("%w: cannot extend lease on %s for %s", ErrLockNotHeld, resourceID, agentID)
	}
	return nil
}

// SweepExpired releases every lock whose lease has passed, emitting an
// Expired audit event per resource. Returns the released resource IDs.
// Must be invoked periodically by the host; the manager never self-schedules.
func (m *Manager) SweepExpired(ctx context.Context) ([]string, error) {
	leases, err := m.client.AllLeases(ctx)
	if err != nil {
		return nil, err
	}

	nowMs := m.now().UnixMilli()
	var expired []string

	for resourceID, lease := range leases {
		if !lease.ExpiredAt(nowMs) {
			continue
		}

		// Release only if still held by the leased agent - a concurrent
		// release+reacquire must not be clobbered.
		result, _, err := m.client.ReleaseLock(ctx, resourceID, lease.Holder)
		if err != nil {
			log.Printf("[Lock] Sweep: failed to expire %s: %v", resourceID, err)
			continue
		}
		if result != board.ReleaseDone {
			continue
		}

		m.appendEvent(ctx, resourceID, lease.Holder, board.LockEventExpired, "lease expired")
		expired = append(expired, resourceID)
	}

	return expired, nil
}

// TrimAudit drops the oldest audit entries beyond the configured retention
// cap. Never called inside acquire/release paths; the host invokes it
// alongside the other sweeps.
func (m *Manager) TrimAudit(ctx context.Context) (int64, error) {
	return m.client.TrimLockAudit(ctx, m.auditRetention)
}

// ValidateConsistency asserts the bijection between locks currently held and
// lease metadata present. Fails with ErrLockConsistency naming the first
// offending resource. Used in tests and health checks.
func (m *Manager) ValidateConsistency(ctx context.Context) error {
	holders, err := m.client.AllLockHolders(ctx)
	if err != nil {
		return err
	}

	leases, err := m.client.AllLeases(ctx)
	if err != nil {
		return err
	}

	for resourceID, holder := range holders {
		lease, ok := leases[resourceID]
		if !ok {
			return fmt.Errorf("%w: %s has holder %s but no lease", ErrLockConsistency, resourceID, holder)
		}
		if lease.Holder != holder {
			return fmt.Errorf("%w: %s held by %s but leased to %s", ErrLockConsistency, resourceID, holder, lease.Holder)
		}
	}

	for resourceID := range leases {
		if _, ok := holders[resourceID]; !ok {
			return fmt.Errorf("%w: %s has lease metadata but no holder", ErrLockConsistency, resourceID)
		}
	}

	return nil
}

// IsLocked reports whether resourceID is currently held. Pure read.
func (m *Manager) IsLocked(ctx context.Context, resourceID string) (bool, error) {
	holder, err := m.client.LockHolder(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return holder != "", nil
}

// HolderOf returns the agent holding resourceID, or "" if unlocked. Pure read.
func (m *Manager) HolderOf(ctx context.Context, resourceID string) (string, error) {
	return m.client.LockHolder(ctx, resourceID)
}

// LeaseOf returns the lease metadata for resourceID, or nil if unlocked.
func (m *Manager) LeaseOf(ctx context.Context, resourceID string) (*board.Lease, error) {
	return m.client.GetLease(ctx, resourceID)
}

// LocksOfAgent returns the resources agentID currently holds. Pure read.
func (m *Manager) LocksOfAgent(ctx context.Context, agentID string) ([]string, error) {
	return m.client.AgentLockSet(ctx, agentID)
}

// Events returns the newest limit audit entries (0 = all), oldest first.
func (m *Manager) Events(ctx context.Context, limit int) ([]*board.LockEvent, error) {
	return m.client.LockEvents(ctx, limit)
}

// Stats summarizes current lock state and audit activity.
type Stats struct {
	HeldCount     int                           `json:"held_count"`
	LocksPerAgent map[string]int                `json:"locks_per_agent"`
	EventCounts   map[board.LockEventType]int64 `json:"event_counts"`
}

// CollectStats gathers lock counts per agent and audit event counts by type.
func (m *Manager) CollectStats(ctx context.Context) (*Stats, error) {
	holders, err := m.client.AllLockHolders(ctx)
	if err != nil {
		return nil, err
	}

	events, err := m.client.LockEvents(ctx, 0)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		HeldCount:     len(holders),
		LocksPerAgent: make(map[string]int),
		EventCounts:   make(map[board.LockEventType]int64),
	}
	for _, holder := range holders {
		stats.LocksPerAgent[holder]++
	}
	for _, ev := range events {
		stats.EventCounts[ev.Type]++
	}

	return stats, nil
}

// appendEvent records an audit entry; failures are logged, not propagated,
// so a Redis hiccup on the audit path cannot wedge a completed transition.
func (m *Manager) appendEvent(ctx context.Context, resourceID, agentID string, eventType board.LockEventType, reason string) {
	ev := &board.LockEvent{
		TimestampMs: m.now().UnixMilli(),
		ResourceID:  resourceID,
		AgentID:     agentID,
		Type:        eventType,
		Reason:      reason,
	}

	if err := m.client.AppendLockEvent(ctx, ev); err != nil {
		log.Printf("[Lock] Failed to append %s event for %s: %v", eventType, resourceID, err)
	}
}
