package board

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestAgentCRUD(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	agent := &AgentRecord{
		ID:              "coder-1",
		DisplayName:     "Go Coder",
		AgentType:       "go-coder",
		Status:          AgentStatusIdle,
		Capabilities:    []string{"go", "refactor"},
		AssignedScope:   "internal/",
		LastHeartbeatMs: 1000,
		RegisteredAtMs:  1000,
	}

	t.Run("put and get round-trips", func(t *testing.T) {
		require.NoError(t, client.PutAgent(ctx, agent))

		got, err := client.GetAgent(ctx, "coder-1")
		require.NoError(t, err)
		assert.Equal(t, agent, got)
	})

	t.Run("exists checks the index", func(t *testing.T) {
		exists, err := client.AgentExists(ctx, "coder-1")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = client.AgentExists(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := client.GetAgent(ctx, "ghost")
		assert.True(t, IsNotFound(err))
	})

	t.Run("list returns registered IDs", func(t *testing.T) {
		ids, err := client.ListAgentIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"coder-1"}, ids)
	})
}

func testMessage(recipients ...string) *Message {
	return &Message{
		ID:           uuid.New().String(),
		Type:         MessageTypeTaskAssignment,
		Priority:     MessagePriorityNormal,
		SenderID:     "coordinator",
		RecipientIDs: recipients,
		Payload:      map[string]interface{}{"task": "build"},
		CreatedAtMs:  1000,
	}
}

func TestCreateMessage(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes record and fans out to inboxes", func(t *testing.T) {
		msg := testMessage("coder-1", "coder-2")
		require.NoError(t, client.CreateMessage(ctx, msg, nil))

		got, err := client.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg, got)

		for _, agentID := range msg.RecipientIDs {
			n, err := client.InboxLen(ctx, agentID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		}
	})

	t.Run("records initial delivery states", func(t *testing.T) {
		msg := testMessage("coder-1", "coder-3")
		initial := map[string]DeliveryState{
			"coder-1": DeliveryPending,
			"coder-3": DeliveryStale,
		}
		require.NoError(t, client.CreateMessage(ctx, msg, initial))

		states, err := client.GetDeliveryStates(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, DeliveryPending, states["coder-1"])
		assert.Equal(t, DeliveryStale, states["coder-3"])
	})

	t.Run("rejects invalid message", func(t *testing.T) {
		msg := testMessage("coder-1")
		msg.Type = "gossip"
		assert.Error(t, client.CreateMessage(ctx, msg, nil))
	})
}

func TestInboxOrdering(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	// Submission order: normal, low, critical, normal.
	// Drain order must be priority-major, arrival-minor.
	first := testMessage("coder-1")
	second := testMessage("coder-1")
	second.Priority = MessagePriorityLow
	third := testMessage("coder-1")
	third.Priority = MessagePriorityCritical
	fourth := testMessage("coder-1")

	for _, msg := range []*Message{first, second, third, fourth} {
		require.NoError(t, client.CreateMessage(ctx, msg, nil))
	}

	ids, err := client.PopInbox(ctx, "coder-1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, first.ID, fourth.ID, second.ID}, ids)

	n, err := client.InboxLen(ctx, "coder-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPendingAcks(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.AddPendingAck(ctx, "msg-1", "coder-1", 5000))
	require.NoError(t, client.AddPendingAck(ctx, "msg-2", "coder-2", 9000))

	t.Run("overdue pops only past-deadline entries", func(t *testing.T) {
		overdue, err := client.OverdueAcks(ctx, 5000)
		require.NoError(t, err)
		assert.Equal(t, []string{"msg-1:coder-1"}, overdue)

		// Popped entries don't come back
		overdue, err = client.OverdueAcks(ctx, 5000)
		require.NoError(t, err)
		assert.Empty(t, overdue)
	})

	t.Run("remove clears a pending entry", func(t *testing.T) {
		removed, err := client.RemovePendingAck(ctx, "msg-2", "coder-2")
		require.NoError(t, err)
		assert.True(t, removed)

		overdue, err := client.OverdueAcks(ctx, 10_000)
		require.NoError(t, err)
		assert.Empty(t, overdue)
	})
}

func TestSessionCRUD(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	session := &CoordinationSession{
		ID:             uuid.New().String(),
		Topic:          "merge order",
		ParticipantIDs: []string{"coder-1", "coder-2"},
		Status:         SessionStatusActive,
		CreatedAtMs:    1000,
	}

	require.NoError(t, client.CreateSession(ctx, session))

	got, err := client.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session, got)

	session.Status = SessionStatusCompleted
	session.Outcome = "agreed"
	session.ClosedAtMs = 2000
	require.NoError(t, client.UpdateSession(ctx, session))

	got, err = client.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionStatusCompleted, got.Status)
	assert.Equal(t, "agreed", got.Outcome)

	ids, err := client.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{session.ID}, ids)
}
