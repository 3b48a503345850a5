package conflict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/dyluth/drey/pkg/board"
	"github.com/google/uuid"
)

var (
	// ErrRoundNotFound is returned when an operation names an unknown round.
	ErrRoundNotFound = errors.New("consensus round not found")

	// ErrNotParticipant is returned when a vote arrives from an agent not
	// registered on the round. It indicates a bug in the voting agent.
	ErrNotParticipant = errors.New("agent is not a round participant")

	// ErrInvalidOption is returned when a vote names an option the round
	// does not offer.
	ErrInvalidOption = errors.New("vote names an unknown option")

	// ErrRoundClosed is returned when voting on a decided or failed round.
	ErrRoundClosed = errors.New("consensus round is closed")

	// ErrQuorumNotReached is returned by Decision while the round is still
	// open: no option has the required share yet.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrConsensusTimeout is returned by Decision for a round that failed
	// at its deadline without quorum.
	ErrConsensusTimeout = errors.New("consensus round timed out")
)

// quorumEpsilon absorbs float representation of fractions like 2/3 expressed
// as 0.67 in config, so three voters at 0.67 need two agreeing votes, not three.
const quorumEpsilon = 0.01

// quorumVotesNeeded converts a quorum fraction over n participants into a
// whole vote count.
func quorumVotesNeeded(fraction float64, participants int) int {
	return int(math.Ceil(fraction*float64(participants) - quorumEpsilon))
}

// OpenConsensus starts a quorum vote over candidate resolutions for a
// conflict. The voting panel is the configured fixed panel if set, otherwise
// the conflict's involved agents plus every other online agent. A
// coordination session is opened for the round and each participant receives
// a ConsensusRequest carrying the options and deadline.
//
// The quorum share is measured against the panel registered at open time;
// agents going offline mid-round do not shrink the denominator.
func (e *Engine) OpenConsensus(ctx context.Context, conflictID string, options []string) (*board.ConsensusRound, error) {
	conflict, err := e.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if err := e.markResolving(ctx, conflict); err != nil {
		return nil, err
	}

	if len(options) == 0 {
		return nil, fmt.Errorf("consensus requires at least one option")
	}

	participants, err := e.consensusPanel(ctx, conflict)
	if err != nil {
		return nil, err
	}
	if len(participants) < 2 {
		if err := e.Escalate(ctx, conflictID, "too few online agents to form a consensus panel"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("cannot open consensus for %s: panel of %d", conflictID, len(participants))
	}

	session, err := e.hub.CreateSession(ctx,
		fmt.Sprintf("consensus for conflict %s", conflictID), participants)
	if err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	round := &board.ConsensusRound{
		ID:             uuid.New().String(),
		SessionID:      session.ID,
		ConflictID:     conflictID,
		Options:        e.orderByHint(options, conflict.PredictedHint),
		ParticipantIDs: participants,
		QuorumFraction: e.quorumFraction,
		DeadlineMs:     nowMs + e.roundTimeout.Milliseconds(),
		Status:         board.RoundStatusOpen,
		CreatedAtMs:    nowMs,
	}

	if err := e.client.CreateRound(ctx, round); err != nil {
		return nil, err
	}

	msg := e.hub.NewMessage(board.MessageTypeConsensusRequest, board.MessagePriorityHigh,
		CoordinatorAgentID, participants, map[string]interface{}{
			"round_id":    round.ID,
			"conflict_id": conflictID,
			"options":     round.Options,
			"deadline_ms": round.DeadlineMs,
		})
	if err := e.hub.SendMessage(ctx, msg); err != nil {
		log.Printf("[Conflict] Failed to broadcast consensus request for %s: %v", round.ID, err)
	}

	e.logEvent("consensus_opened", map[string]interface{}{
		"round_id":     round.ID,
		"conflict_id":  conflictID,
		"participants": len(participants),
		"needed":       quorumVotesNeeded(round.QuorumFraction, len(participants)),
	})

	return round, nil
}

// consensusPanel assembles the round's voters: the configured fixed panel
// when present, otherwise involved agents plus all other online agents.
func (e *Engine) consensusPanel(ctx context.Context, conflict *board.Conflict) ([]string, error) {
	if len(e.panel) > 0 {
		return e.panel, nil
	}

	online, err := e.hub.OnlineAgents(ctx)
	if err != nil {
		return nil, err
	}

	// The coordinator relays votes; it never casts one
	seen := map[string]bool{CoordinatorAgentID: true}
	var panel []string
	for _, agentID := range conflict.AgentIDs {
		if !seen[agentID] {
			seen[agentID] = true
			panel = append(panel, agentID)
		}
	}
	for _, agentID := range online {
		if !seen[agentID] {
			seen[agentID] = true
			panel = append(panel, agentID)
		}
	}
	return panel, nil
}

// orderByHint moves the predicted option to the front of the candidate list
// when present. Advisory only: it biases presentation order, never the tally.
func (e *Engine) orderByHint(options []string, hint string) []string {
	if hint == "" {
		return options
	}
	for i, opt := range options {
		if opt != hint {
			continue
		}
		reordered := make([]string, 0, len(options))
		reordered = append(reordered, hint)
		reordered = append(reordered, options[:i]...)
		reordered = append(reordered, options[i+1:]...)
		return reordered
	}
	return options
}

// GetRound returns the round record for roundID.
func (e *Engine) GetRound(ctx context.Context, roundID string) (*board.ConsensusRound, error) {
	round, err := e.client.GetRound(ctx, roundID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
		}
		return nil, err
	}
	return round, nil
}

// CastVote records an agent's vote. A re-vote while the round is open
// replaces the earlier one (last vote wins). The round is tallied immediately
// after every vote: it closes the instant one option's share of registered
// participants reaches quorum, applying the decision to the conflict.
func (e *Engine) CastVote(ctx context.Context, roundID, agentID, option string) error {
	round, err := e.GetRound(ctx, roundID)
	if err != nil {
		return err
	}

	if round.Status != board.RoundStatusOpen {
		return fmt.Errorf("%w: %s is %s", ErrRoundClosed, roundID, round.Status)
	}

	participant := false
	for _, id := range round.ParticipantIDs {
		if id == agentID {
			participant = true
			break
		}
	}
	if !participant {
		return fmt.Errorf("%w: %s on round %s", ErrNotParticipant, agentID, roundID)
	}

	valid := false
	for _, opt := range round.Options {
		if opt == option {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %q on round %s", ErrInvalidOption, option, roundID)
	}

	if err := e.client.SetVote(ctx, roundID, agentID, option); err != nil {
		return err
	}

	return e.tally(ctx, round)
}

// tally counts votes and closes the round if any option has reached quorum.
func (e *Engine) tally(ctx context.Context, round *board.ConsensusRound) error {
	votes, err := e.client.GetAllVotes(ctx, round.ID)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, option := range votes {
		counts[option]++
	}

	needed := quorumVotesNeeded(round.QuorumFraction, len(round.ParticipantIDs))
	for _, option := range round.Options {
		if counts[option] < needed {
			continue
		}
		return e.decideRound(ctx, round, option)
	}
	return nil
}

// decideRound closes an open round with a winning option, resolves the
// conflict with the decision and completes the session.
func (e *Engine) decideRound(ctx context.Context, round *board.ConsensusRound, option string) error {
	round.Status = board.RoundStatusDecided
	round.Decision = option
	if err := e.client.UpdateRound(ctx, round); err != nil {
		return err
	}

	e.logEvent("consensus_decided", map[string]interface{}{
		"round_id":    round.ID,
		"conflict_id": round.ConflictID,
		"decision":    option,
	})

	conflict, err := e.GetConflict(ctx, round.ConflictID)
	if err != nil {
		return err
	}
	if err := e.applyResolution(ctx, conflict, &board.ConflictResolution{
		Strategy: board.StrategyConsensus,
		Decision: option,
	}); err != nil {
		return err
	}

	return e.hub.CloseSession(ctx, round.SessionID, board.SessionStatusCompleted,
		fmt.Sprintf("decided: %s", option))
}

// Decision returns the winning option of a decided round. While the round is
// open it fails with ErrQuorumNotReached; after a deadline failure it fails
// with ErrConsensusTimeout.
func (e *Engine) Decision(ctx context.Context, roundID string) (string, error) {
	round, err := e.GetRound(ctx, roundID)
	if err != nil {
		return "", err
	}

	switch round.Status {
	case board.RoundStatusDecided:
		return round.Decision, nil
	case board.RoundStatusOpen:
		return "", fmt.Errorf("%w: round %s still open", ErrQuorumNotReached, roundID)
	default:
		return "", fmt.Errorf("%w: round %s", ErrConsensusTimeout, roundID)
	}
}

// SweepRounds fails every open round past its deadline, times out its session
// and escalates the underlying conflict. Returns the IDs of rounds failed
// this pass. Host-invoked; a deadline lapse is an expected condition.
func (e *Engine) SweepRounds(ctx context.Context) ([]string, error) {
	openIDs, err := e.client.OpenRoundIDs(ctx)
	if err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	var failed []string

	for _, roundID := range openIDs {
		round, err := e.client.GetRound(ctx, roundID)
		if err != nil {
			log.Printf("[Conflict] Round sweep: failed to read %s: %v", roundID, err)
			continue
		}
		if round.Status != board.RoundStatusOpen || nowMs < round.DeadlineMs {
			continue
		}

		round.Status = board.RoundStatusFailed
		if err := e.client.UpdateRound(ctx, round); err != nil {
			log.Printf("[Conflict] Round sweep: failed to close %s: %v", roundID, err)
			continue
		}

		if err := e.hub.CloseSession(ctx, round.SessionID, board.SessionStatusTimedOut,
			"consensus deadline passed without quorum"); err != nil {
			log.Printf("[Conflict] Round sweep: failed to close session %s: %v", round.SessionID, err)
		}

		if err := e.Escalate(ctx, round.ConflictID, "consensus round timed out without quorum"); err != nil {
			log.Printf("[Conflict] Round sweep: failed to escalate %s: %v", round.ConflictID, err)
		}

		e.logEvent("consensus_timed_out", map[string]interface{}{
			"round_id":    roundID,
			"conflict_id": round.ConflictID,
		})
		failed = append(failed, roundID)
	}

	return failed, nil
}
