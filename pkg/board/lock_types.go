package board

import "fmt"

// Lease records the lease metadata for a held lock. A resource with no lease
// entry is unlocked; a holder entry with no lease (or vice versa) is a
// consistency violation.
type Lease struct {
	Holder       string `json:"holder"`         // Agent ID currently holding the lock
	AcquiredAtMs int64  `json:"acquired_at_ms"` // Unix ms the lock was granted
	ExpiresAtMs  int64  `json:"expires_at_ms"`  // Unix ms the lease runs out
}

// ExpiredAt reports whether the lease has run out at the given instant.
func (l *Lease) ExpiredAt(nowMs int64) bool {
	return nowMs >= l.ExpiresAtMs
}

// LockEvent is an immutable audit entry for a lock transition. Events are
// appended to the audit log in order and never mutated or reordered; the only
// removal path is the explicit oldest-first retention trim.
type LockEvent struct {
	TimestampMs int64         `json:"timestamp_ms"`     // Unix ms the transition happened
	ResourceID  string        `json:"resource_id"`      // The contested resource
	AgentID     string        `json:"agent_id"`         // The holder the transition concerns
	Type        LockEventType `json:"type"`             // What happened
	Reason      string        `json:"reason,omitempty"` // Operator/engine-supplied context for force releases
}

// LockEventType defines the kind of lock transition an audit entry records.
type LockEventType string

const (
	// LockEventAcquired is emitted once per holding period when a lock is granted
	LockEventAcquired LockEventType = "acquired"

	// LockEventReleased is emitted when the holder releases its own lock
	LockEventReleased LockEventType = "released"

	// LockEventExpired is emitted by the lease sweep when a lease runs out
	LockEventExpired LockEventType = "expired"

	// LockEventForceReleased is emitted by the administrative override
	LockEventForceReleased LockEventType = "force_released"
)

// Validate checks if the LockEvent has valid field values.
func (e *LockEvent) Validate() error {
	if e.ResourceID == "" {
		return fmt.Errorf("resource ID cannot be empty")
	}

	if err := e.Type.Validate(); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}

	return nil
}

// Validate checks if the LockEventType is a valid enum value.
func (t LockEventType) Validate() error {
	switch t {
	case LockEventAcquired, LockEventReleased, LockEventExpired, LockEventForceReleased:
		return nil
	default:
		return fmt.Errorf("unknown lock event type: %q", t)
	}
}
