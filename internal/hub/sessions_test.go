package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/board"
)

func TestCreateSession(t *testing.T) {
	h, _, clock := setupTestHub(t)
	ctx := context.Background()

	registerTestAgent(t, h, "coder-1")
	registerTestAgent(t, h, "coder-2")

	t.Run("creates an active session", func(t *testing.T) {
		session, err := h.CreateSession(ctx, "merge order", []string{"coder-1", "coder-2"})
		require.NoError(t, err)
		assert.Equal(t, board.SessionStatusActive, session.Status)
		assert.Equal(t, "merge order", session.Topic)
		assert.Equal(t, clock.Now().UnixMilli(), session.CreatedAtMs)

		got, err := h.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session, got)
	})

	t.Run("rejects fewer than two participants", func(t *testing.T) {
		_, err := h.CreateSession(ctx, "solo", []string{"coder-1"})
		assert.Error(t, err)
	})

	t.Run("rejects unknown participants", func(t *testing.T) {
		_, err := h.CreateSession(ctx, "topic", []string{"coder-1", "ghost"})
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})
}

func TestAddParticipant(t *testing.T) {
	h, _, _ := setupTestHub(t)
	ctx := context.Background()

	registerTestAgent(t, h, "coder-1")
	registerTestAgent(t, h, "coder-2")
	registerTestAgent(t, h, "coder-3")

	session, err := h.CreateSession(ctx, "topic", []string{"coder-1", "coder-2"})
	require.NoError(t, err)

	t.Run("grows the participant set", func(t *testing.T) {
		require.NoError(t, h.AddParticipant(ctx, session.ID, "coder-3"))

		got, err := h.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"coder-1", "coder-2", "coder-3"}, got.ParticipantIDs)
	})

	t.Run("adding an existing participant is a no-op", func(t *testing.T) {
		require.NoError(t, h.AddParticipant(ctx, session.ID, "coder-3"))

		got, err := h.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Len(t, got.ParticipantIDs, 3)
	})

	t.Run("rejects unknown agents", func(t *testing.T) {
		err := h.AddParticipant(ctx, session.ID, "ghost")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("rejects closed sessions", func(t *testing.T) {
		require.NoError(t, h.CloseSession(ctx, session.ID, board.SessionStatusCancelled, "abandoned"))

		registerTestAgent(t, h, "coder-4")
		err := h.AddParticipant(ctx, session.ID, "coder-4")
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestCloseSession(t *testing.T) {
	h, _, clock := setupTestHub(t)
	ctx := context.Background()

	registerTestAgent(t, h, "coder-1")
	registerTestAgent(t, h, "coder-2")

	session, err := h.CreateSession(ctx, "topic", []string{"coder-1", "coder-2"})
	require.NoError(t, err)

	t.Run("cannot close to active", func(t *testing.T) {
		err := h.CloseSession(ctx, session.ID, board.SessionStatusActive, "")
		assert.Error(t, err)
	})

	t.Run("records status, outcome and close time", func(t *testing.T) {
		clock.Advance(time.Minute)
		require.NoError(t, h.CloseSession(ctx, session.ID, board.SessionStatusCompleted, "agreed"))

		got, err := h.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, board.SessionStatusCompleted, got.Status)
		assert.Equal(t, "agreed", got.Outcome)
		assert.Equal(t, clock.Now().UnixMilli(), got.ClosedAtMs)
	})

	t.Run("re-closing is a no-op", func(t *testing.T) {
		require.NoError(t, h.CloseSession(ctx, session.ID, board.SessionStatusCancelled, "other"))

		got, err := h.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, board.SessionStatusCompleted, got.Status)
		assert.Equal(t, "agreed", got.Outcome)
	})

	t.Run("unknown session fails", func(t *testing.T) {
		err := h.CloseSession(ctx, "00000000-0000-0000-0000-000000000000", board.SessionStatusCompleted, "")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}
