// Package board provides type-safe Go definitions and Redis schema patterns
// for the Drey coordination board.
//
// # Overview
//
// The board is the central shared state system where all Drey components
// (coordinator daemon, agent processes, monitoring tooling) interact via
// well-defined data structures stored in Redis. It implements the Blackboard
// architectural pattern - a shared workspace where independent agents
// collaborate by reading and writing structured records.
//
// # Core Concepts
//
// Agents are registered identities with heartbeat-based liveness. An agent is
// never deleted from the board; it decays to Offline when its heartbeats stop,
// so the audit history stays valid.
//
// Locks grant a single agent time-bounded exclusive ownership of an opaque
// resource identifier (typically a file path or scope). Every lock transition
// is recorded as an immutable LockEvent in an append-only audit log.
//
// Messages are immutable prioritized records routed to per-agent inboxes.
// Delivery state (delivered/acked/stale) is tracked separately from the
// message itself.
//
// Conflicts, consensus rounds and negotiations capture contention between
// agents and the process of resolving it. Prediction models hold advisory,
// confidence-scored resolution hints.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Drey instances to safely coexist on a single Redis server
// without interference.
//
// # Redis Schema
//
// All Redis keys follow the pattern: drey:{instance_name}:{entity}:{id}
//
// Agents:        drey:{instance_name}:agent:{agent_id}
// Messages:      drey:{instance_name}:message:{message_id}
// Inboxes:       drey:{instance_name}:inbox:{agent_id}           (ZSET)
// Sessions:      drey:{instance_name}:session:{session_id}
// Lock holders:  drey:{instance_name}:lock_holders               (hash)
// Lock leases:   drey:{instance_name}:lock_leases                (hash)
// Audit log:     drey:{instance_name}:lock_audit                 (list)
// Conflicts:     drey:{instance_name}:conflict:{conflict_id}
// Rounds:        drey:{instance_name}:round:{round_id}
// Round votes:   drey:{instance_name}:round:{round_id}:votes     (hash)
// Models:        drey:{instance_name}:model:{conflict_type}
//
// Pub/Sub channels: drey:{instance_name}:{event_type}_events
//
// # Design Principles
//
//   - Type Safety: all records have strong typing with validation methods
//   - Immutability: messages and lock events are immutable once created
//   - Atomicity: lock transitions run as Lua scripts so concurrent acquires
//     resolve to exactly one winner
//   - Isolation: instance namespacing prevents cross-instance interference
package board
