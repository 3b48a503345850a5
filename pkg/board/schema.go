package board

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple Drey instances to safely coexist on a single Redis server.
//
// Key pattern: drey:{instance_name}:{entity}:{id}
// Channel pattern: drey:{instance_name}:{event_type}_events

// AgentKey returns the Redis key for an agent record.
// Pattern: drey:{instance_name}:agent:{agent_id}
func AgentKey(instanceName, agentID string) string {
	return fmt.Sprintf("drey:%s:agent:%s", instanceName, agentID)
}

// AgentIndexKey returns the Redis key for the set of registered agent IDs.
// Pattern: drey:{instance_name}:agents
func AgentIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:agents", instanceName)
}

// MessageKey returns the Redis key for a message record.
// Pattern: drey:{instance_name}:message:{message_id}
func MessageKey(instanceName, messageID string) string {
	return fmt.Sprintf("drey:%s:message:%s", instanceName, messageID)
}

// DeliveryKey returns the Redis key for a message's per-recipient delivery
// state hash (recipient agent ID → DeliveryState).
// Pattern: drey:{instance_name}:message:{message_id}:delivery
func DeliveryKey(instanceName, messageID string) string {
	return fmt.Sprintf("drey:%s:message:%s:delivery", instanceName, messageID)
}

// InboxKey returns the Redis key for an agent's inbox ZSET. Members are
// message IDs scored by priority rank then arrival sequence, so ZPOPMIN
// drains in priority-then-FIFO order.
// Pattern: drey:{instance_name}:inbox:{agent_id}
func InboxKey(instanceName, agentID string) string {
	return fmt.Sprintf("drey:%s:inbox:%s", instanceName, agentID)
}

// MessageSeqKey returns the Redis key for the message arrival sequence counter.
// Pattern: drey:{instance_name}:message_seq
func MessageSeqKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:message_seq", instanceName)
}

// PendingAcksKey returns the Redis key for the pending-ack deadline ZSET.
// Members are "{message_id}:{agent_id}" scored by the ack deadline in unix ms.
// Pattern: drey:{instance_name}:pending_acks
func PendingAcksKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:pending_acks", instanceName)
}

// SessionKey returns the Redis key for a coordination session.
// Pattern: drey:{instance_name}:session:{session_id}
func SessionKey(instanceName, sessionID string) string {
	return fmt.Sprintf("drey:%s:session:%s", instanceName, sessionID)
}

// SessionIndexKey returns the Redis key for the set of session IDs.
// Pattern: drey:{instance_name}:sessions
func SessionIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:sessions", instanceName)
}

// LockHoldersKey returns the Redis key for the lock holders hash
// (resource_id → holder agent_id).
// Pattern: drey:{instance_name}:lock_holders
func LockHoldersKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:lock_holders", instanceName)
}

// LockLeasesKey returns the Redis key for the lock leases hash
// (resource_id → JSON-encoded Lease).
// Pattern: drey:{instance_name}:lock_leases
func LockLeasesKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:lock_leases", instanceName)
}

// AgentLocksKey returns the Redis key for the set of resources an agent holds.
// Pattern: drey:{instance_name}:agent_locks:{agent_id}
func AgentLocksKey(instanceName, agentID string) string {
	return fmt.Sprintf("drey:%s:agent_locks:%s", instanceName, agentID)
}

// AgentLocksKeyPrefix returns the prefix shared by all agent lock sets.
// The lock scripts build per-agent keys from this inside Lua.
func AgentLocksKeyPrefix(instanceName string) string {
	return fmt.Sprintf("drey:%s:agent_locks:", instanceName)
}

// LockAuditKey returns the Redis key for the append-only lock event list.
// Pattern: drey:{instance_name}:lock_audit
func LockAuditKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:lock_audit", instanceName)
}

// ConflictKey returns the Redis key for a conflict record.
// Pattern: drey:{instance_name}:conflict:{conflict_id}
func ConflictKey(instanceName, conflictID string) string {
	return fmt.Sprintf("drey:%s:conflict:%s", instanceName, conflictID)
}

// ConflictIndexKey returns the Redis key for the set of conflict IDs.
// Pattern: drey:{instance_name}:conflicts
func ConflictIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:conflicts", instanceName)
}

// RoundKey returns the Redis key for a consensus round record.
// Pattern: drey:{instance_name}:round:{round_id}
func RoundKey(instanceName, roundID string) string {
	return fmt.Sprintf("drey:%s:round:%s", instanceName, roundID)
}

// RoundVotesKey returns the Redis key for a round's votes hash
// (agent_id → chosen option; HSET gives last-vote-wins semantics).
// Pattern: drey:{instance_name}:round:{round_id}:votes
func RoundVotesKey(instanceName, roundID string) string {
	return fmt.Sprintf("drey:%s:round:%s:votes", instanceName, roundID)
}

// RoundIndexKey returns the Redis key for the set of all round IDs.
// Pattern: drey:{instance_name}:rounds
func RoundIndexKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:rounds", instanceName)
}

// OpenRoundsKey returns the Redis key for the set of currently open round IDs,
// scanned by the deadline sweep.
// Pattern: drey:{instance_name}:open_rounds
func OpenRoundsKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:open_rounds", instanceName)
}

// NegotiationKey returns the Redis key for a negotiation record.
// Pattern: drey:{instance_name}:negotiation:{negotiation_id}
func NegotiationKey(instanceName, negotiationID string) string {
	return fmt.Sprintf("drey:%s:negotiation:%s", instanceName, negotiationID)
}

// OpenNegotiationsKey returns the Redis key for the set of open negotiation IDs.
// Pattern: drey:{instance_name}:open_negotiations
func OpenNegotiationsKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:open_negotiations", instanceName)
}

// ModelKey returns the Redis key for the prediction model covering a conflict type.
// Pattern: drey:{instance_name}:model:{conflict_type}
func ModelKey(instanceName string, conflictType ConflictType) string {
	return fmt.Sprintf("drey:%s:model:%s", instanceName, conflictType)
}

// LockEventsChannel returns the Pub/Sub channel name for lock audit events.
// Pattern: drey:{instance_name}:lock_events
func LockEventsChannel(instanceName string) string {
	return fmt.Sprintf("drey:%s:lock_events", instanceName)
}

// MessageEventsChannel returns the Pub/Sub channel name for message events.
// Pattern: drey:{instance_name}:message_events
func MessageEventsChannel(instanceName string) string {
	return fmt.Sprintf("drey:%s:message_events", instanceName)
}

// ConflictEventsChannel returns the Pub/Sub channel name for conflict events.
// Pattern: drey:{instance_name}:conflict_events
func ConflictEventsChannel(instanceName string) string {
	return fmt.Sprintf("drey:%s:conflict_events", instanceName)
}

// AgentEventsChannel returns the agent-specific notification channel name.
// Used to nudge an agent that its inbox has new messages.
// Pattern: drey:{instance_name}:agent:{agent_id}:events
func AgentEventsChannel(instanceName, agentID string) string {
	return fmt.Sprintf("drey:%s:agent:%s:events", instanceName, agentID)
}
