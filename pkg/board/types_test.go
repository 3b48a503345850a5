package board

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAgentRecordValidation(t *testing.T) {
	t.Run("valid agent", func(t *testing.T) {
		agent := &AgentRecord{
			ID:     "coder-1",
			Status: AgentStatusIdle,
		}
		assert.NoError(t, agent.Validate())
	})

	t.Run("rejects empty ID", func(t *testing.T) {
		agent := &AgentRecord{Status: AgentStatusIdle}
		err := agent.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "agent ID cannot be empty")
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		agent := &AgentRecord{ID: "coder-1", Status: "sleeping"}
		assert.Error(t, agent.Validate())
	})
}

func TestAgentIsOnlineAt(t *testing.T) {
	agent := &AgentRecord{
		ID:              "coder-1",
		Status:          AgentStatusIdle,
		LastHeartbeatMs: 100_000,
	}

	t.Run("online within timeout", func(t *testing.T) {
		assert.True(t, agent.IsOnlineAt(100_000+89_999, 90_000))
	})

	t.Run("offline past timeout", func(t *testing.T) {
		assert.False(t, agent.IsOnlineAt(100_000+90_000, 90_000))
	})

	t.Run("offline status always offline", func(t *testing.T) {
		stale := &AgentRecord{ID: "coder-1", Status: AgentStatusOffline, LastHeartbeatMs: 100_000}
		assert.False(t, stale.IsOnlineAt(100_001, 90_000))
	})
}

func TestMessageValidation(t *testing.T) {
	valid := func() *Message {
		return &Message{
			ID:           uuid.New().String(),
			Type:         MessageTypeTaskAssignment,
			Priority:     MessagePriorityNormal,
			SenderID:     "coordinator",
			RecipientIDs: []string{"coder-1"},
		}
	}

	t.Run("valid message", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects non-UUID ID", func(t *testing.T) {
		m := valid()
		m.ID = "not-a-uuid"
		assert.Error(t, m.Validate())
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		m := valid()
		m.Type = "gossip"
		assert.Error(t, m.Validate())
	})

	t.Run("rejects empty recipients", func(t *testing.T) {
		m := valid()
		m.RecipientIDs = nil
		err := m.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "recipient IDs cannot be empty")
	})

	t.Run("rejects blank recipient entry", func(t *testing.T) {
		m := valid()
		m.RecipientIDs = []string{"coder-1", ""}
		assert.Error(t, m.Validate())
	})
}

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 0, MessagePriorityCritical.Rank())
	assert.Equal(t, 1, MessagePriorityHigh.Rank())
	assert.Equal(t, 2, MessagePriorityNormal.Rank())
	assert.Equal(t, 3, MessagePriorityLow.Rank())
	assert.Equal(t, 4, MessagePriority("bogus").Rank())
}

func TestSessionValidation(t *testing.T) {
	t.Run("requires two participants", func(t *testing.T) {
		s := &CoordinationSession{
			ID:             uuid.New().String(),
			ParticipantIDs: []string{"solo"},
			Status:         SessionStatusActive,
		}
		err := s.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least two participants")
	})

	t.Run("valid session", func(t *testing.T) {
		s := &CoordinationSession{
			ID:             uuid.New().String(),
			ParticipantIDs: []string{"a", "b"},
			Status:         SessionStatusActive,
		}
		assert.NoError(t, s.Validate())
	})
}

func TestConsensusRoundValidation(t *testing.T) {
	valid := func() *ConsensusRound {
		return &ConsensusRound{
			ID:             uuid.New().String(),
			SessionID:      uuid.New().String(),
			Options:        []string{"keep", "yield"},
			ParticipantIDs: []string{"a", "b", "c"},
			QuorumFraction: 0.75,
			Status:         RoundStatusOpen,
		}
	}

	t.Run("valid round", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects out-of-range quorum", func(t *testing.T) {
		r := valid()
		r.QuorumFraction = 1.5
		assert.Error(t, r.Validate())

		r.QuorumFraction = 0
		assert.Error(t, r.Validate())
	})

	t.Run("rejects empty options", func(t *testing.T) {
		r := valid()
		r.Options = nil
		assert.Error(t, r.Validate())
	})
}

func TestNegotiationValidation(t *testing.T) {
	t.Run("parties must differ", func(t *testing.T) {
		n := &NegotiationState{
			ID:          uuid.New().String(),
			InitiatorID: "coder-1",
			ResponderID: "coder-1",
			Status:      NegotiationStatusOpen,
		}
		err := n.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "parties must differ")
	})
}

func TestLeaseExpiredAt(t *testing.T) {
	lease := &Lease{Holder: "coder-1", AcquiredAtMs: 1000, ExpiresAtMs: 2000}
	assert.False(t, lease.ExpiredAt(1999))
	assert.True(t, lease.ExpiredAt(2000))
	assert.True(t, lease.ExpiredAt(3000))
}
