// Package conflict implements the conflict prevention engine: detection,
// prediction-assisted strategy selection, quorum consensus, two-party
// negotiation, and resolution application.
//
// The engine consumes lock contention from the lock manager and routes all
// agent traffic through the coordination hub. It owns conflict records,
// consensus rounds, negotiations and prediction models; it never mutates
// locks or agent records except through their public operations.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/hub"
	"github.com/dyluth/drey/internal/lock"
	"github.com/dyluth/drey/pkg/board"
	"github.com/google/uuid"
)

// CoordinatorAgentID is the identity the engine stamps as sender on its own
// messages and the address agents send votes and negotiation replies to. The
// daemon registers it as an agent; it never joins consensus panels.
const CoordinatorAgentID = "coordinator"

var (
	// ErrConflictNotFound is returned when an operation names an unknown conflict.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictClosed is returned when selecting a strategy for a conflict
	// already in a terminal state.
	ErrConflictClosed = errors.New("conflict already resolved or escalated")
)

// Engine coordinates conflict detection and resolution.
type Engine struct {
	client *board.Client
	hub    *hub.Hub
	locks  *lock.Manager

	quorumFraction       float64
	roundTimeout         time.Duration
	panel                []string
	negotiationTimeout   time.Duration
	negotiationMaxRounds int
	confidenceThreshold  float64

	// now is injected for testability; defaults to time.Now.
	now func() time.Time
}

// NewEngine creates a conflict prevention engine wired to the hub and lock
// manager it coordinates through.
func NewEngine(client *board.Client, h *hub.Hub, locks *lock.Manager, cfg config.CoordinationConfig) *Engine {
	return &Engine{
		client:               client,
		hub:                  h,
		locks:                locks,
		quorumFraction:       cfg.Consensus.QuorumFraction,
		roundTimeout:         cfg.Consensus.RoundTimeout.Std(),
		panel:                cfg.Consensus.Panel,
		negotiationTimeout:   cfg.Negotiation.Timeout.Std(),
		negotiationMaxRounds: cfg.Negotiation.MaxRounds,
		confidenceThreshold:  cfg.Prediction.ConfidenceThreshold,
		now:                  time.Now,
	}
}

// Detect records a new conflict in the Detected state. If a prediction model
// covers the category and clears its confidence threshold, the predicted
// resolution is attached as an advisory hint. Involved agents receive a
// ConflictDetection message.
func (e *Engine) Detect(ctx context.Context, conflictType board.ConflictType, severity board.ConflictSeverity, agentIDs, resourceIDs []string) (*board.Conflict, error) {
	conflict := &board.Conflict{
		ID:           uuid.New().String(),
		Type:         conflictType,
		Severity:     severity,
		Status:       board.ConflictStatusDetected,
		AgentIDs:     agentIDs,
		ResourceIDs:  resourceIDs,
		DetectedAtMs: e.now().UnixMilli(),
	}

	if hint, err := e.Predict(ctx, conflictType); err != nil {
		log.Printf("[Conflict] Prediction lookup failed for %s: %v", conflictType, err)
	} else if hint != nil {
		conflict.PredictedHint = hint.Option
	}

	if err := e.client.CreateConflict(ctx, conflict); err != nil {
		return nil, err
	}

	e.logEvent("conflict_detected", map[string]interface{}{
		"conflict_id": conflict.ID,
		"type":        string(conflictType),
		"severity":    string(severity),
		"agents":      agentIDs,
		"resources":   resourceIDs,
		"predicted":   conflict.PredictedHint,
	})

	e.notifyAgents(ctx, conflict, board.MessageTypeConflictDetection, map[string]interface{}{
		"conflict_id": conflict.ID,
		"type":        string(conflictType),
		"severity":    string(severity),
		"resources":   resourceIDs,
	})

	return conflict, nil
}

// DetectLockContention is the convenience entry fed by failed acquires: two
// agents wanting the same resource. File-path resources classify as file
// contention, everything else as resource contention.
func (e *Engine) DetectLockContention(ctx context.Context, resourceID, holderID, requesterID string) (*board.Conflict, error) {
	conflictType := board.ConflictResourceContention
	if looksLikePath(resourceID) {
		conflictType = board.ConflictFileContention
	}

	return e.Detect(ctx, conflictType, board.SeverityMedium,
		[]string{holderID, requesterID}, []string{resourceID})
}

// looksLikePath reports whether a resource identifier names a file or scope path.
func looksLikePath(resourceID string) bool {
	for _, r := range resourceID {
		if r == '/' || r == '\\' {
			return true
		}
	}
	return false
}

// GetConflict returns the conflict record for conflictID.
func (e *Engine) GetConflict(ctx context.Context, conflictID string) (*board.Conflict, error) {
	conflict, err := e.client.GetConflict(ctx, conflictID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
		}
		return nil, err
	}
	return conflict, nil
}

// ChooseStrategy picks the resolution strategy for a conflict:
//
//   - exactly two agents over lock-backed resources at severity below High
//     resolve automatically (earliest holder wins)
//   - exactly two agents otherwise negotiate peer-to-peer
//   - everything else goes to a consensus vote
//
// The choice is deterministic; prediction hints reorder candidate options but
// never change the strategy.
func (e *Engine) ChooseStrategy(conflict *board.Conflict) board.ResolutionStrategy {
	twoParty := len(conflict.AgentIDs) == 2

	if twoParty && len(conflict.ResourceIDs) > 0 &&
		(conflict.Type == board.ConflictFileContention || conflict.Type == board.ConflictResourceContention) &&
		conflict.Severity != board.SeverityHigh && conflict.Severity != board.SeverityCritical {
		return board.StrategyAutomatic
	}

	if twoParty && conflict.Type != board.ConflictDependencyVersion {
		return board.StrategyNegotiation
	}

	return board.StrategyConsensus
}

// markResolving flips a Detected conflict to Resolving. Idempotent for a
// conflict already Resolving; terminal conflicts are rejected.
func (e *Engine) markResolving(ctx context.Context, conflict *board.Conflict) error {
	switch conflict.Status {
	case board.ConflictStatusDetected:
		conflict.Status = board.ConflictStatusResolving
		return e.client.UpdateConflict(ctx, conflict)
	case board.ConflictStatusResolving:
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrConflictClosed, conflict.ID, conflict.Status)
	}
}

// ResolveAutomatic applies the earliest-holder-wins rule: the agent whose
// lease on the contested resource is oldest keeps it; every other involved
// resource is reassigned to that winner. Deterministic, no agent interaction;
// agent ID order breaks acquisition-time ties.
func (e *Engine) ResolveAutomatic(ctx context.Context, conflictID string) (*board.ConflictResolution, error) {
	conflict, err := e.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if err := e.markResolving(ctx, conflict); err != nil {
		return nil, err
	}

	winner := e.earliestHolder(ctx, conflict)
	if winner == "" {
		// No lease evidence to decide on - surface for a human
		if err := e.Escalate(ctx, conflictID, "automatic rule found no holder to prefer"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("cannot resolve %s automatically: no current holder", conflictID)
	}

	resolution := &board.ConflictResolution{
		Strategy: board.StrategyAutomatic,
		Rule:     "earliest-holder-wins",
		Decision: winner,
	}

	if err := e.applyResolution(ctx, conflict, resolution); err != nil {
		return nil, err
	}
	return resolution, nil
}

// earliestHolder returns the involved agent with the oldest lease on any
// contested resource, or "" when none of the resources are held.
func (e *Engine) earliestHolder(ctx context.Context, conflict *board.Conflict) string {
	involved := make(map[string]bool, len(conflict.AgentIDs))
	for _, agentID := range conflict.AgentIDs {
		involved[agentID] = true
	}

	winner := ""
	var winnerAcquired int64

	for _, resourceID := range conflict.ResourceIDs {
		lease, err := e.locks.LeaseOf(ctx, resourceID)
		if err != nil {
			log.Printf("[Conflict] Failed to read lease for %s: %v", resourceID, err)
			continue
		}
		if lease == nil || !involved[lease.Holder] {
			continue
		}

		if winner == "" ||
			lease.AcquiredAtMs < winnerAcquired ||
			(lease.AcquiredAtMs == winnerAcquired && lease.Holder < winner) {
			winner = lease.Holder
			winnerAcquired = lease.AcquiredAtMs
		}
	}

	return winner
}

// applyResolution reassigns contested locks to the decided winner (when the
// decision names an involved agent), notifies participants, records the
// resolution and flips the conflict to Resolved. Idempotent: applying to an
// already-Resolved conflict is a no-op, so a crash between steps is
// re-sweepable. Escalated is terminal: a late decision can never flip it back.
func (e *Engine) applyResolution(ctx context.Context, conflict *board.Conflict, resolution *board.ConflictResolution) error {
	switch conflict.Status {
	case board.ConflictStatusResolved:
		return nil
	case board.ConflictStatusEscalated:
		return fmt.Errorf("%w: %s is escalated", ErrConflictClosed, conflict.ID)
	}

	resolution.ResolvedAtMs = e.now().UnixMilli()

	// Lock reassignment only applies when the decision is an involved agent
	winnerIsAgent := false
	for _, agentID := range conflict.AgentIDs {
		if agentID == resolution.Decision {
			winnerIsAgent = true
			break
		}
	}

	if winnerIsAgent {
		for _, resourceID := range conflict.ResourceIDs {
			holder, err := e.locks.HolderOf(ctx, resourceID)
			if err != nil {
				return err
			}
			if holder == resolution.Decision {
				continue
			}

			if holder != "" {
				reason := fmt.Sprintf("conflict %s resolved in favor of %s", conflict.ID, resolution.Decision)
				if err := e.locks.ForceRelease(ctx, resourceID, reason); err != nil {
					return err
				}
			}
			if _, err := e.locks.Acquire(ctx, resourceID, resolution.Decision); err != nil {
				log.Printf("[Conflict] Failed to reassign %s to %s: %v", resourceID, resolution.Decision, err)
			}
		}
	}

	conflict.Status = board.ConflictStatusResolved
	conflict.Resolution = resolution
	if err := e.client.UpdateConflict(ctx, conflict); err != nil {
		return err
	}

	e.logEvent("conflict_resolved", map[string]interface{}{
		"conflict_id": conflict.ID,
		"strategy":    string(resolution.Strategy),
		"decision":    resolution.Decision,
	})

	e.notifyAgents(ctx, conflict, board.MessageTypeResolutionNotice, map[string]interface{}{
		"conflict_id": conflict.ID,
		"strategy":    string(resolution.Strategy),
		"decision":    resolution.Decision,
	})

	return nil
}

// Escalate moves a conflict to the terminal Escalated state for external
// (human/policy) intervention. Any open consensus round or negotiation for
// the conflict is closed so late agent traffic cannot reopen it; the engine
// never auto-retries an escalated conflict. Idempotent for already-escalated
// conflicts.
func (e *Engine) Escalate(ctx context.Context, conflictID, reason string) error {
	conflict, err := e.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}

	switch conflict.Status {
	case board.ConflictStatusEscalated:
		return nil
	case board.ConflictStatusResolved:
		return fmt.Errorf("%w: %s already resolved", ErrConflictClosed, conflictID)
	}

	conflict.Status = board.ConflictStatusEscalated
	conflict.Resolution = &board.ConflictResolution{
		Strategy:     board.StrategyManual,
		Decision:     reason,
		ResolvedAtMs: e.now().UnixMilli(),
	}
	if err := e.client.UpdateConflict(ctx, conflict); err != nil {
		return err
	}

	e.abortOpenExchanges(ctx, conflictID, reason)

	e.logEvent("conflict_escalated", map[string]interface{}{
		"conflict_id": conflictID,
		"reason":      reason,
	})
	return nil
}

// abortOpenExchanges closes any open round or negotiation attached to an
// escalated conflict. Best-effort: the escalation itself already stands, and
// a survivor would still be refused by the terminal-state guard on apply.
func (e *Engine) abortOpenExchanges(ctx context.Context, conflictID, reason string) {
	roundIDs, err := e.client.OpenRoundIDs(ctx)
	if err != nil {
		log.Printf("[Conflict] Escalation of %s: failed to list open rounds: %v", conflictID, err)
		roundIDs = nil
	}
	for _, roundID := range roundIDs {
		round, err := e.client.GetRound(ctx, roundID)
		if err != nil || round.ConflictID != conflictID || round.Status != board.RoundStatusOpen {
			continue
		}
		round.Status = board.RoundStatusFailed
		if err := e.client.UpdateRound(ctx, round); err != nil {
			log.Printf("[Conflict] Escalation of %s: failed to close round %s: %v", conflictID, roundID, err)
			continue
		}
		if err := e.hub.CloseSession(ctx, round.SessionID, board.SessionStatusCancelled, reason); err != nil {
			log.Printf("[Conflict] Escalation of %s: failed to close session %s: %v", conflictID, round.SessionID, err)
		}
	}

	negotiationIDs, err := e.client.OpenNegotiationIDs(ctx)
	if err != nil {
		log.Printf("[Conflict] Escalation of %s: failed to list open negotiations: %v", conflictID, err)
		negotiationIDs = nil
	}
	for _, negotiationID := range negotiationIDs {
		negotiation, err := e.client.GetNegotiation(ctx, negotiationID)
		if err != nil || negotiation.ConflictID != conflictID || negotiation.Status != board.NegotiationStatusOpen {
			continue
		}
		negotiation.Status = board.NegotiationStatusTimedOut
		if err := e.client.UpdateNegotiation(ctx, negotiation); err != nil {
			log.Printf("[Conflict] Escalation of %s: failed to close negotiation %s: %v", conflictID, negotiationID, err)
			continue
		}
		if err := e.hub.CloseSession(ctx, negotiation.SessionID, board.SessionStatusCancelled, reason); err != nil {
			log.Printf("[Conflict] Escalation of %s: failed to close session %s: %v", conflictID, negotiation.SessionID, err)
		}
	}
}

// EscalatedConflicts lists conflicts awaiting external intervention.
func (e *Engine) EscalatedConflicts(ctx context.Context) ([]*board.Conflict, error) {
	ids, err := e.client.ListConflictIDs(ctx)
	if err != nil {
		return nil, err
	}

	var escalated []*board.Conflict
	for _, conflictID := range ids {
		conflict, err := e.client.GetConflict(ctx, conflictID)
		if err != nil {
			return nil, err
		}
		if conflict.Status == board.ConflictStatusEscalated {
			escalated = append(escalated, conflict)
		}
	}
	return escalated, nil
}

// notifyAgents sends a normal-priority message about a conflict to every
// involved agent that is still registered. Best-effort.
func (e *Engine) notifyAgents(ctx context.Context, conflict *board.Conflict, msgType board.MessageType, payload map[string]interface{}) {
	var known []string
	for _, agentID := range conflict.AgentIDs {
		if _, err := e.hub.GetAgent(ctx, agentID); err == nil {
			known = append(known, agentID)
		}
	}
	if len(known) == 0 {
		return
	}

	msg := e.hub.NewMessage(msgType, board.MessagePriorityHigh, CoordinatorAgentID, known, payload)
	if err := e.hub.SendMessage(ctx, msg); err != nil {
		log.Printf("[Conflict] Failed to notify agents for %s: %v", conflict.ID, err)
	}
}

// Stats summarizes conflict activity for monitoring.
type Stats struct {
	ConflictsByType      map[board.ConflictType]int   `json:"conflicts_by_type"`
	ConflictsByStatus    map[board.ConflictStatus]int `json:"conflicts_by_status"`
	RoundsDecided        int                          `json:"rounds_decided"`
	RoundsFailed         int                          `json:"rounds_failed"`
	ConsensusSuccessRate float64                      `json:"consensus_success_rate"`
}

// CollectStats gathers conflict counts and the consensus success rate.
func (e *Engine) CollectStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ConflictsByType:   make(map[board.ConflictType]int),
		ConflictsByStatus: make(map[board.ConflictStatus]int),
	}

	conflictIDs, err := e.client.ListConflictIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, conflictID := range conflictIDs {
		conflict, err := e.client.GetConflict(ctx, conflictID)
		if err != nil {
			return nil, err
		}
		stats.ConflictsByType[conflict.Type]++
		stats.ConflictsByStatus[conflict.Status]++
	}

	roundIDs, err := e.client.ListRoundIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, roundID := range roundIDs {
		round, err := e.client.GetRound(ctx, roundID)
		if err != nil {
			return nil, err
		}
		switch round.Status {
		case board.RoundStatusDecided:
			stats.RoundsDecided++
		case board.RoundStatusFailed:
			stats.RoundsFailed++
		}
	}

	if closed := stats.RoundsDecided + stats.RoundsFailed; closed > 0 {
		stats.ConsensusSuccessRate = float64(stats.RoundsDecided) / float64(closed)
	}

	return stats, nil
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = e.now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "conflict-engine"
	data["event_type"] = eventType
	data["instance"] = e.client.InstanceName()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Conflict] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
