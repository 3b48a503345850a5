package board

import (
	"fmt"

	"github.com/google/uuid"
)

// AgentRecord represents a registered agent's identity and liveness state.
// Agents are created on registration and updated on every heartbeat. They are
// never physically deleted - an agent that stops heartbeating is marked
// Offline so that audit history referencing it stays valid.
type AgentRecord struct {
	ID              string      `json:"id"`                // Unique agent identifier
	DisplayName     string      `json:"display_name"`      // Human-readable name
	AgentType       string      `json:"agent_type"`        // User-defined type (e.g. "go-coder", "reviewer")
	Status          AgentStatus `json:"status"`            // Current lifecycle state
	Capabilities    []string    `json:"capabilities"`      // Capability tags for panel selection
	AssignedScope   string      `json:"assigned_scope"`    // Resource scope this agent works within
	LastHeartbeatMs int64       `json:"last_heartbeat_ms"` // Unix ms of last heartbeat
	RegisteredAtMs  int64       `json:"registered_at_ms"`  // Unix ms of first registration
}

// AgentStatus defines the lifecycle state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is online and available for work
	AgentStatusIdle AgentStatus = "idle"

	// AgentStatusBusy indicates the agent is online and executing work
	AgentStatusBusy AgentStatus = "busy"

	// AgentStatusOffline indicates the agent's heartbeats have gone stale
	AgentStatusOffline AgentStatus = "offline"
)

// IsOnlineAt reports whether the agent counts as online at the given instant,
// derived from the last heartbeat and the configured timeout (both unix ms).
func (a *AgentRecord) IsOnlineAt(nowMs, timeoutMs int64) bool {
	return a.Status != AgentStatusOffline && nowMs-a.LastHeartbeatMs < timeoutMs
}

// Message is the immutable unit of inter-agent communication.
// Delivery state (delivered/acked/stale) is tracked in a separate delivery
// hash, never by mutating the message record itself.
type Message struct {
	ID           string                 `json:"id"`                      // UUID
	Type         MessageType            `json:"type"`                    // Routing type
	Priority     MessagePriority        `json:"priority"`                // Delivery ordering
	SenderID     string                 `json:"sender_id"`               // Originating agent (or "coordinator")
	RecipientIDs []string               `json:"recipient_ids"`           // Non-empty set of recipient agent IDs
	Payload      map[string]interface{} `json:"payload"`                 // Opaque structured data, not interpreted by the core
	CreatedAtMs  int64                  `json:"created_at_ms"`           // Unix ms of creation
	ExpiresAtMs  int64                  `json:"expires_at_ms,omitempty"` // Optional delivery deadline (0 = none)
	RequiresAck  bool                   `json:"requires_ack"`            // Whether recipients must acknowledge
}

// MessageType defines the routing type of a message.
type MessageType string

const (
	// MessageTypeTaskAssignment carries work handed to an agent
	MessageTypeTaskAssignment MessageType = "task_assignment"

	// MessageTypeConflictDetection notifies agents a conflict involving them was detected
	MessageTypeConflictDetection MessageType = "conflict_detection"

	// MessageTypeConsensusRequest asks agents to vote on candidate resolutions
	MessageTypeConsensusRequest MessageType = "consensus_request"

	// MessageTypeConsensusVote carries an agent's vote in an open round
	MessageTypeConsensusVote MessageType = "consensus_vote"

	// MessageTypeNegotiationRequest opens or continues a two-party negotiation
	MessageTypeNegotiationRequest MessageType = "negotiation_request"

	// MessageTypeNegotiationReply carries a counter-proposal or acceptance
	MessageTypeNegotiationReply MessageType = "negotiation_reply"

	// MessageTypeResolutionNotice informs participants of a resolution outcome
	MessageTypeResolutionNotice MessageType = "resolution_notice"

	// MessageTypeAck acknowledges receipt of a message that requires it
	MessageTypeAck MessageType = "ack"
)

// MessagePriority defines delivery ordering. Higher priorities drain first;
// equal priorities drain in submission order.
type MessagePriority string

const (
	MessagePriorityLow      MessagePriority = "low"
	MessagePriorityNormal   MessagePriority = "normal"
	MessagePriorityHigh     MessagePriority = "high"
	MessagePriorityCritical MessagePriority = "critical"
)

// Rank returns the priority's drain order: lower ranks drain first.
// Unknown priorities rank after Low.
func (p MessagePriority) Rank() int {
	switch p {
	case MessagePriorityCritical:
		return 0
	case MessagePriorityHigh:
		return 1
	case MessagePriorityNormal:
		return 2
	case MessagePriorityLow:
		return 3
	default:
		return 4
	}
}

// DeliveryState tracks per-recipient delivery status for a message.
type DeliveryState string

const (
	// DeliveryPending means the message sits undrained in the recipient's inbox
	DeliveryPending DeliveryState = "pending"

	// DeliveryDelivered means the recipient drained the message from its inbox
	DeliveryDelivered DeliveryState = "delivered"

	// DeliveryAcked means the recipient acknowledged the message
	DeliveryAcked DeliveryState = "acked"

	// DeliveryStale means the recipient was offline at send time; the message
	// stays queued but is flagged undeliverable rather than silently dropped
	DeliveryStale DeliveryState = "stale"

	// DeliveryExpired means the message passed its expiry before being drained
	DeliveryExpired DeliveryState = "expired"
)

// CoordinationSession is a bounded multi-party conversation. Sessions frame
// consensus rounds and negotiations; they own zero or more rounds.
type CoordinationSession struct {
	ID             string        `json:"id"`             // UUID
	Topic          string        `json:"topic"`          // Human-readable subject
	ParticipantIDs []string      `json:"participants"`   // Agent IDs; may grow, never shrinks
	Status         SessionStatus `json:"status"`         // Current lifecycle state
	CreatedAtMs    int64         `json:"created_at_ms"`  // Unix ms of creation
	ClosedAtMs     int64         `json:"closed_at_ms"`   // Unix ms of close (0 while active)
	Outcome        string        `json:"outcome"`        // Free-text outcome recorded on close
}

// SessionStatus defines the lifecycle state of a coordination session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusTimedOut  SessionStatus = "timed_out"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Validate checks if the AgentRecord has valid field values.
func (a *AgentRecord) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	if err := a.Status.Validate(); err != nil {
		return fmt.Errorf("invalid agent status: %w", err)
	}

	return nil
}

// Validate checks if the AgentStatus is a valid enum value.
func (s AgentStatus) Validate() error {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusOffline:
		return nil
	default:
		return fmt.Errorf("unknown agent status: %q", s)
	}
}

// Validate checks if the Message has valid field values.
func (m *Message) Validate() error {
	if !isValidUUID(m.ID) {
		return fmt.Errorf("invalid message ID: not a valid UUID")
	}

	if err := m.Type.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	if err := m.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority: %w", err)
	}

	if m.SenderID == "" {
		return fmt.Errorf("sender ID cannot be empty")
	}

	if len(m.RecipientIDs) == 0 {
		return fmt.Errorf("recipient IDs cannot be empty")
	}

	for i, recipientID := range m.RecipientIDs {
		if recipientID == "" {
			return fmt.Errorf("empty recipient ID at index %d", i)
		}
	}

	return nil
}

// Validate checks if the MessageType is a valid enum value.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeTaskAssignment, MessageTypeConflictDetection,
		MessageTypeConsensusRequest, MessageTypeConsensusVote,
		MessageTypeNegotiationRequest, MessageTypeNegotiationReply,
		MessageTypeResolutionNotice, MessageTypeAck:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", mt)
	}
}

// Validate checks if the MessagePriority is a valid enum value.
func (p MessagePriority) Validate() error {
	switch p {
	case MessagePriorityLow, MessagePriorityNormal, MessagePriorityHigh, MessagePriorityCritical:
		return nil
	default:
		return fmt.Errorf("unknown message priority: %q", p)
	}
}

// Validate checks if the CoordinationSession has valid field values.
func (s *CoordinationSession) Validate() error {
	if !isValidUUID(s.ID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}

	if len(s.ParticipantIDs) < 2 {
		return fmt.Errorf("session requires at least two participants, got %d", len(s.ParticipantIDs))
	}

	if err := s.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	return nil
}

// Validate checks if the SessionStatus is a valid enum value.
func (ss SessionStatus) Validate() error {
	switch ss {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusTimedOut, SessionStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown session status: %q", ss)
	}
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
