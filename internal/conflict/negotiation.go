package conflict

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dyluth/drey/pkg/board"
	"github.com/google/uuid"
)

var (
	// ErrNegotiationNotFound is returned when an operation names an unknown
	// negotiation.
	ErrNegotiationNotFound = errors.New("negotiation not found")

	// ErrNegotiationClosed is returned when proposing on or accepting an
	// already-settled negotiation.
	ErrNegotiationClosed = errors.New("negotiation is closed")

	// ErrNotNegotiationParty is returned when an agent outside the two
	// parties tries to act on a negotiation.
	ErrNotNegotiationParty = errors.New("agent is not a negotiation party")

	// ErrNotYourTurn is returned when a party proposes twice in a row, or
	// tries to accept its own proposal.
	ErrNotYourTurn = errors.New("awaiting the other party")
)

// OpenNegotiation starts a two-party proposal exchange over a conflict. The
// initiator's opening proposal is recorded as round one and the responder
// receives a NegotiationRequest. A coordination session tracks the exchange.
func (e *Engine) OpenNegotiation(ctx context.Context, conflictID, initiatorID, responderID, proposal string) (*board.NegotiationState, error) {
	conflict, err := e.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if err := e.markResolving(ctx, conflict); err != nil {
		return nil, err
	}

	session, err := e.hub.CreateSession(ctx,
		fmt.Sprintf("negotiation for conflict %s", conflictID),
		[]string{initiatorID, responderID})
	if err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	negotiation := &board.NegotiationState{
		ID:          uuid.New().String(),
		SessionID:   session.ID,
		ConflictID:  conflictID,
		InitiatorID: initiatorID,
		ResponderID: responderID,
		Proposals: []board.Proposal{{
			AgentID:      initiatorID,
			Value:        proposal,
			ProposedAtMs: nowMs,
		}},
		MaxRounds:   e.negotiationMaxRounds,
		DeadlineMs:  nowMs + e.negotiationTimeout.Milliseconds(),
		Status:      board.NegotiationStatusOpen,
		CreatedAtMs: nowMs,
	}

	if err := e.client.CreateNegotiation(ctx, negotiation); err != nil {
		return nil, err
	}

	msg := e.hub.NewMessage(board.MessageTypeNegotiationRequest, board.MessagePriorityHigh,
		initiatorID, []string{responderID}, map[string]interface{}{
			"negotiation_id": negotiation.ID,
			"conflict_id":    conflictID,
			"proposal":       proposal,
			"deadline_ms":    negotiation.DeadlineMs,
		})
	if err := e.hub.SendMessage(ctx, msg); err != nil {
		log.Printf("[Conflict] Failed to deliver negotiation request %s: %v", negotiation.ID, err)
	}

	e.logEvent("negotiation_opened", map[string]interface{}{
		"negotiation_id": negotiation.ID,
		"conflict_id":    conflictID,
		"initiator":      initiatorID,
		"responder":      responderID,
	})

	return negotiation, nil
}

// GetNegotiation returns the negotiation record for negotiationID.
func (e *Engine) GetNegotiation(ctx context.Context, negotiationID string) (*board.NegotiationState, error) {
	negotiation, err := e.client.GetNegotiation(ctx, negotiationID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNegotiationNotFound, negotiationID)
		}
		return nil, err
	}
	return negotiation, nil
}

// CounterProposal records the other party's counter-offer and forwards it as
// a NegotiationReply. Parties strictly alternate; a counter that would exceed
// the round cap escalates the conflict instead of being recorded.
func (e *Engine) CounterProposal(ctx context.Context, negotiationID, agentID, value string) (*board.NegotiationState, error) {
	negotiation, err := e.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}

	if err := e.checkTurn(negotiation, agentID); err != nil {
		return nil, err
	}

	if len(negotiation.Proposals) >= negotiation.MaxRounds {
		if err := e.failNegotiation(ctx, negotiation, "proposal cap reached without agreement"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("negotiation %s exceeded %d rounds, escalated", negotiationID, negotiation.MaxRounds)
	}

	negotiation.Proposals = append(negotiation.Proposals, board.Proposal{
		AgentID:      agentID,
		Value:        value,
		ProposedAtMs: e.now().UnixMilli(),
	})
	if err := e.client.UpdateNegotiation(ctx, negotiation); err != nil {
		return nil, err
	}

	other := e.otherParty(negotiation, agentID)
	msg := e.hub.NewMessage(board.MessageTypeNegotiationReply, board.MessagePriorityHigh,
		agentID, []string{other}, map[string]interface{}{
			"negotiation_id": negotiationID,
			"proposal":       value,
			"round":          len(negotiation.Proposals),
		})
	if err := e.hub.SendMessage(ctx, msg); err != nil {
		log.Printf("[Conflict] Failed to deliver counter-proposal on %s: %v", negotiationID, err)
	}

	return negotiation, nil
}

// AcceptProposal settles a negotiation on the other party's latest proposal
// and resolves the conflict with its value. Only the party that did not make
// the last proposal can accept.
func (e *Engine) AcceptProposal(ctx context.Context, negotiationID, agentID string) (*board.ConflictResolution, error) {
	negotiation, err := e.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}

	if err := e.checkTurn(negotiation, agentID); err != nil {
		return nil, err
	}

	last := negotiation.LastProposal()
	negotiation.Status = board.NegotiationStatusAccepted
	if err := e.client.UpdateNegotiation(ctx, negotiation); err != nil {
		return nil, err
	}

	e.logEvent("negotiation_accepted", map[string]interface{}{
		"negotiation_id": negotiationID,
		"conflict_id":    negotiation.ConflictID,
		"accepted_by":    agentID,
		"value":          last.Value,
		"rounds":         len(negotiation.Proposals),
	})

	conflict, err := e.GetConflict(ctx, negotiation.ConflictID)
	if err != nil {
		return nil, err
	}
	resolution := &board.ConflictResolution{
		Strategy: board.StrategyNegotiation,
		Decision: last.Value,
	}
	if err := e.applyResolution(ctx, conflict, resolution); err != nil {
		return nil, err
	}

	if err := e.hub.CloseSession(ctx, negotiation.SessionID, board.SessionStatusCompleted,
		fmt.Sprintf("accepted: %s", last.Value)); err != nil {
		return nil, err
	}

	return resolution, nil
}

// checkTurn validates that agentID is a party to the open negotiation and
// that the latest proposal came from the other side.
func (e *Engine) checkTurn(negotiation *board.NegotiationState, agentID string) error {
	if negotiation.Status != board.NegotiationStatusOpen {
		return fmt.Errorf("%w: %s is %s", ErrNegotiationClosed, negotiation.ID, negotiation.Status)
	}

	if agentID != negotiation.InitiatorID && agentID != negotiation.ResponderID {
		return fmt.Errorf("%w: %s on %s", ErrNotNegotiationParty, agentID, negotiation.ID)
	}

	if last := negotiation.LastProposal(); last != nil && last.AgentID == agentID {
		return fmt.Errorf("%w: %s proposed last on %s", ErrNotYourTurn, agentID, negotiation.ID)
	}

	return nil
}

// otherParty returns the negotiation party that is not agentID.
func (e *Engine) otherParty(negotiation *board.NegotiationState, agentID string) string {
	if agentID == negotiation.InitiatorID {
		return negotiation.ResponderID
	}
	return negotiation.InitiatorID
}

// failNegotiation times out a negotiation, its session and escalates the
// conflict.
func (e *Engine) failNegotiation(ctx context.Context, negotiation *board.NegotiationState, reason string) error {
	negotiation.Status = board.NegotiationStatusTimedOut
	if err := e.client.UpdateNegotiation(ctx, negotiation); err != nil {
		return err
	}

	if err := e.hub.CloseSession(ctx, negotiation.SessionID, board.SessionStatusTimedOut, reason); err != nil {
		log.Printf("[Conflict] Failed to close session %s: %v", negotiation.SessionID, err)
	}

	if err := e.Escalate(ctx, negotiation.ConflictID, reason); err != nil {
		return err
	}

	e.logEvent("negotiation_failed", map[string]interface{}{
		"negotiation_id": negotiation.ID,
		"conflict_id":    negotiation.ConflictID,
		"reason":         reason,
	})
	return nil
}

// SweepNegotiations fails every open negotiation past its deadline. Returns
// the IDs failed this pass. Host-invoked.
func (e *Engine) SweepNegotiations(ctx context.Context) ([]string, error) {
	openIDs, err := e.client.OpenNegotiationIDs(ctx)
	if err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	var failed []string

	for _, negotiationID := range openIDs {
		negotiation, err := e.client.GetNegotiation(ctx, negotiationID)
		if err != nil {
			log.Printf("[Conflict] Negotiation sweep: failed to read %s: %v", negotiationID, err)
			continue
		}
		if negotiation.Status != board.NegotiationStatusOpen || nowMs < negotiation.DeadlineMs {
			continue
		}

		if err := e.failNegotiation(ctx, negotiation, "negotiation deadline passed"); err != nil {
			log.Printf("[Conflict] Negotiation sweep: failed to close %s: %v", negotiationID, err)
			continue
		}
		failed = append(failed, negotiationID)
	}

	return failed, nil
}
