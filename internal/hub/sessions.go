package hub

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/drey/pkg/board"
	"github.com/google/uuid"
)

// CreateSession opens a multi-party coordination session. Fails if fewer than
// two participants are named or any participant is unknown.
func (h *Hub) CreateSession(ctx context.Context, topic string, participantIDs []string) (*board.CoordinationSession, error) {
	if len(participantIDs) < 2 {
		return nil, fmt.Errorf("session requires at least two participants, got %d", len(participantIDs))
	}

	for _, agentID := range participantIDs {
		exists, err := h.client.AgentExists(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: participant %s", ErrAgentNotFound, agentID)
		}
	}

	session := &board.CoordinationSession{
		ID:             uuid.New().String(),
		Topic:          topic,
		ParticipantIDs: participantIDs,
		Status:         board.SessionStatusActive,
		CreatedAtMs:    h.now().UnixMilli(),
	}

	if err := h.client.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	log.Printf("[Hub] Session %s created: topic=%q, participants=%v", session.ID, topic, participantIDs)
	return session, nil
}

// GetSession returns the session record for sessionID.
func (h *Hub) GetSession(ctx context.Context, sessionID string) (*board.CoordinationSession, error) {
	session, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		if board.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, err
	}
	return session, nil
}

// AddParticipant grows a session's participant set. The set never shrinks.
func (h *Hub) AddParticipant(ctx context.Context, sessionID, agentID string) error {
	session, err := h.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status != board.SessionStatusActive {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sessionID)
	}

	exists, err := h.client.AgentExists(ctx, agentID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	for _, existing := range session.ParticipantIDs {
		if existing == agentID {
			return nil
		}
	}

	session.ParticipantIDs = append(session.ParticipantIDs, agentID)
	return h.client.UpdateSession(ctx, session)
}

// CloseSession moves a session to a terminal status and records the outcome.
// Closing an already-closed session is a no-op so crash recovery can re-apply.
func (h *Hub) CloseSession(ctx context.Context, sessionID string, status board.SessionStatus, outcome string) error {
	if status == board.SessionStatusActive {
		return fmt.Errorf("cannot close session to active status")
	}

	session, err := h.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status != board.SessionStatusActive {
		return nil
	}

	session.Status = status
	session.Outcome = outcome
	session.ClosedAtMs = h.now().UnixMilli()

	if err := h.client.UpdateSession(ctx, session); err != nil {
		return err
	}

	log.Printf("[Hub] Session %s closed: status=%s, outcome=%q", sessionID, status, outcome)
	return nil
}
