// Package hub implements the coordination hub: agent identity and liveness,
// the prioritized message bus, and multi-party coordination sessions.
//
// The hub never blocks a sender waiting for a receiver - delivery is
// pull-based via per-agent inboxes - and liveness decays only through the
// host-invoked staleness sweep. Agents are never deleted, only marked
// Offline, so audit history referencing them stays valid.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/lock"
	"github.com/dyluth/drey/pkg/board"
)

var (
	// ErrAgentNotFound is returned when an operation names an unregistered
	// agent. It indicates a bug in the calling agent's logic.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrSessionNotFound is returned when an operation names an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when mutating a session that already
	// completed, timed out or was cancelled.
	ErrSessionClosed = errors.New("session is closed")
)

// Hub owns agent records, messages and sessions on the board.
type Hub struct {
	client           *board.Client
	locks            *lock.Manager
	heartbeatTimeout time.Duration
	ackTimeout       time.Duration

	// now is injected for testability; defaults to time.Now.
	now func() time.Time
}

// New creates a coordination hub over the given board client. The lock
// manager is used to release a stale agent's locks when it decays Offline.
func New(client *board.Client, locks *lock.Manager, cfg config.HubConfig) *Hub {
	return &Hub{
		client:           client,
		locks:            locks,
		heartbeatTimeout: cfg.HeartbeatTimeout.Std(),
		ackTimeout:       cfg.AckTimeout.Std(),
		now:              time.Now,
	}
}

// RegisterAgent upserts an agent record. Re-registration with the same ID
// updates fields, resets last_heartbeat and flips the agent back to Idle.
func (h *Hub) RegisterAgent(ctx context.Context, record *board.AgentRecord) error {
	nowMs := h.now().UnixMilli()

	existing, err := h.client.GetAgent(ctx, record.ID)
	if err != nil && !board.IsNotFound(err) {
		return err
	}

	record.LastHeartbeatMs = nowMs
	if record.Status == "" || record.Status == board.AgentStatusOffline {
		record.Status = board.AgentStatusIdle
	}
	if existing != nil {
		record.RegisteredAtMs = existing.RegisteredAtMs
	} else {
		record.RegisteredAtMs = nowMs
	}

	if err := h.client.PutAgent(ctx, record); err != nil {
		return err
	}

	log.Printf("[Hub] Agent %s registered (type=%s, status=%s)", record.ID, record.AgentType, record.Status)
	return nil
}

// Heartbeat updates an agent's last_heartbeat. An Offline agent that
// heartbeats again flips back to Idle.
func (h *Hub) Heartbeat(ctx context.Context, agentID string) error {
	agent, err := h.client.GetAgent(ctx, agentID)
	if err != nil {
		if board.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return err
	}

	agent.LastHeartbeatMs = h.now().UnixMilli()
	if agent.Status == board.AgentStatusOffline {
		agent.Status = board.AgentStatusIdle
	}

	return h.client.PutAgent(ctx, agent)
}

// SetAgentStatus flips an agent between Idle and Busy. Offline is reserved
// for the staleness sweep.
func (h *Hub) SetAgentStatus(ctx context.Context, agentID string, status board.AgentStatus) error {
	if status == board.AgentStatusOffline {
		return fmt.Errorf("offline status is set only by the staleness sweep")
	}

	agent, err := h.client.GetAgent(ctx, agentID)
	if err != nil {
		if board.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return err
	}

	agent.Status = status
	agent.LastHeartbeatMs = h.now().UnixMilli()
	return h.client.PutAgent(ctx, agent)
}

// MarkOfflineIfStale marks every agent whose heartbeat is older than the
// configured timeout as Offline and releases its locks. This sweep is the
// sole liveness-decay mechanism; agents are never removed. Returns the IDs
// of agents that decayed this pass. Staleness is an expected state
// transition, not an error.
func (h *Hub) MarkOfflineIfStale(ctx context.Context) ([]string, error) {
	ids, err := h.client.ListAgentIDs(ctx)
	if err != nil {
		return nil, err
	}

	nowMs := h.now().UnixMilli()
	timeoutMs := h.heartbeatTimeout.Milliseconds()
	var decayed []string

	for _, agentID := range ids {
		agent, err := h.client.GetAgent(ctx, agentID)
		if err != nil {
			log.Printf("[Hub] Stale sweep: failed to read agent %s: %v", agentID, err)
			continue
		}

		if agent.Status == board.AgentStatusOffline {
			continue
		}
		if nowMs-agent.LastHeartbeatMs < timeoutMs {
			continue
		}

		agent.Status = board.AgentStatusOffline
		if err := h.client.PutAgent(ctx, agent); err != nil {
			log.Printf("[Hub] Stale sweep: failed to mark %s offline: %v", agentID, err)
			continue
		}

		// Disconnect cleanup: a vanished agent must not strand its locks
		released := h.locks.ReleaseAll(ctx, agentID)
		log.Printf("[Hub] Agent %s marked offline (stale heartbeat), released %d locks", agentID, released)
		decayed = append(decayed, agentID)
	}

	return decayed, nil
}

// GetAgent returns the record for agentID.
func (h *Hub) GetAgent(ctx context.Context, agentID string) (*board.AgentRecord, error) {
	agent, err := h.client.GetAgent(ctx, agentID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return nil, err
	}
	return agent, nil
}

// ListAgents returns a snapshot of every registered agent.
func (h *Hub) ListAgents(ctx context.Context) ([]*board.AgentRecord, error) {
	ids, err := h.client.ListAgentIDs(ctx)
	if err != nil {
		return nil, err
	}

	agents := make([]*board.AgentRecord, 0, len(ids))
	for _, agentID := range ids {
		agent, err := h.client.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// OnlineAgents returns the IDs of agents currently counted as online.
// Used by the conflict engine when assembling consensus panels - Offline
// agents are excluded from new panels.
func (h *Hub) OnlineAgents(ctx context.Context) ([]string, error) {
	agents, err := h.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	nowMs := h.now().UnixMilli()
	timeoutMs := h.heartbeatTimeout.Milliseconds()

	var online []string
	for _, agent := range agents {
		if agent.IsOnlineAt(nowMs, timeoutMs) {
			online = append(online, agent.ID)
		}
	}
	return online, nil
}

// IsOnline reports whether a single agent currently counts as online.
func (h *Hub) IsOnline(ctx context.Context, agentID string) (bool, error) {
	agent, err := h.client.GetAgent(ctx, agentID)
	if err != nil {
		if board.IsNotFound(err) {
			return false, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return false, err
	}
	return agent.IsOnlineAt(h.now().UnixMilli(), h.heartbeatTimeout.Milliseconds()), nil
}

// Stats summarizes hub state for monitoring.
type Stats struct {
	AgentsByStatus   map[board.AgentStatus]int   `json:"agents_by_status"`
	SessionsByStatus map[board.SessionStatus]int `json:"sessions_by_status"`
}

// CollectStats gathers agent and session counts by status.
func (h *Hub) CollectStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		AgentsByStatus:   make(map[board.AgentStatus]int),
		SessionsByStatus: make(map[board.SessionStatus]int),
	}

	agents, err := h.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		stats.AgentsByStatus[agent.Status]++
	}

	sessionIDs, err := h.client.ListSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, sessionID := range sessionIDs {
		session, err := h.client.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		stats.SessionsByStatus[session.Status]++
	}

	return stats, nil
}
