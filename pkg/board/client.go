package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the board.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new board client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the instance this client is scoped to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PutAgent upserts an agent record. Validates the record before writing.
// The agent ID is also added to the agent index set.
func (c *Client) PutAgent(ctx context.Context, a *AgentRecord) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid agent record: %w", err)
	}

	hash, err := AgentToHash(a)
	if err != nil {
		return fmt.Errorf("failed to serialize agent: %w", err)
	}

	key := AgentKey(c.instanceName, a.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write agent to Redis: %w", err)
	}

	if err := c.rdb.SAdd(ctx, AgentIndexKey(c.instanceName), a.ID).Err(); err != nil {
		return fmt.Errorf("failed to index agent: %w", err)
	}

	return nil
}

// GetAgent retrieves an agent record by ID.
// Returns (nil, redis.Nil) if the agent doesn't exist. Use IsNotFound() to check.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*AgentRecord, error) {
	key := AgentKey(c.instanceName, agentID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToAgent(hashData)
}

// AgentExists checks if an agent is registered without fetching its record.
func (c *Client) AgentExists(ctx context.Context, agentID string) (bool, error) {
	exists, err := c.rdb.SIsMember(ctx, AgentIndexKey(c.instanceName), agentID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check agent existence: %w", err)
	}
	return exists, nil
}

// ListAgentIDs returns the IDs of every registered agent.
func (c *Client) ListAgentIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, AgentIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return ids, nil
}

// CreateMessage writes an immutable message record and fans its ID out to each
// recipient's inbox ZSET. The inbox score is priority-major, arrival-sequence
// minor, so ZPOPMIN drains in priority-then-FIFO order. Publishes the full
// message JSON on the message events channel and nudges each recipient's
// notification channel.
//
// Delivery state per recipient is written to the message's delivery hash;
// the caller supplies the initial state for each recipient (pending or stale).
func (c *Client) CreateMessage(ctx context.Context, m *Message, initialDelivery map[string]DeliveryState) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	hash, err := MessageToHash(m)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	key := MessageKey(c.instanceName, m.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write message to Redis: %w", err)
	}

	// Arrival sequence breaks ties within a priority band
	seq, err := c.rdb.Incr(ctx, MessageSeqKey(c.instanceName)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate message sequence: %w", err)
	}

	score := inboxScore(m.Priority, seq)
	deliveryKey := DeliveryKey(c.instanceName, m.ID)

	for _, recipientID := range m.RecipientIDs {
		state := DeliveryPending
		if s, ok := initialDelivery[recipientID]; ok {
			state = s
		}
		if err := c.rdb.HSet(ctx, deliveryKey, recipientID, string(state)).Err(); err != nil {
			return fmt.Errorf("failed to write delivery state: %w", err)
		}

		inboxKey := InboxKey(c.instanceName, recipientID)
		z := redis.Z{Score: score, Member: m.ID}
		if err := c.rdb.ZAdd(ctx, inboxKey, z).Err(); err != nil {
			return fmt.Errorf("failed to enqueue message for %s: %w", recipientID, err)
		}
	}

	if err := c.publishJSON(ctx, MessageEventsChannel(c.instanceName), m); err != nil {
		return err
	}

	for _, recipientID := range m.RecipientIDs {
		// Best-effort nudge; recipients poll their inbox regardless
		c.rdb.Publish(ctx, AgentEventsChannel(c.instanceName, recipientID), m.ID)
	}

	return nil
}

// inboxScore packs priority rank and arrival sequence into a single ZSET
// score. Ranks are spaced far enough apart that sequences never cross bands.
func inboxScore(p MessagePriority, seq int64) float64 {
	const band = 1 << 40
	return float64(int64(p.Rank())*band + seq)
}

// GetMessage retrieves a message by ID.
// Returns (nil, redis.Nil) if the message doesn't exist.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	key := MessageKey(c.instanceName, messageID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToMessage(hashData)
}

// PopInbox removes and returns up to max message IDs from an agent's inbox in
// priority-then-FIFO order.
func (c *Client) PopInbox(ctx context.Context, agentID string, max int) ([]string, error) {
	key := InboxKey(c.instanceName, agentID)

	members, err := c.rdb.ZPopMin(ctx, key, int64(max)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop inbox: %w", err)
	}

	ids := make([]string, 0, len(members))
	for _, z := range members {
		ids = append(ids, z.Member.(string))
	}
	return ids, nil
}

// InboxLen returns the number of undrained messages in an agent's inbox.
func (c *Client) InboxLen(ctx context.Context, agentID string) (int64, error) {
	return c.rdb.ZCard(ctx, InboxKey(c.instanceName, agentID)).Result()
}

// InboxMessageIDs returns the undrained message IDs in an agent's inbox in
// priority-then-FIFO order, without removing them.
func (c *Client) InboxMessageIDs(ctx context.Context, agentID string) ([]string, error) {
	ids, err := c.rdb.ZRange(ctx, InboxKey(c.instanceName, agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	return ids, nil
}

// RemoveFromInbox removes a single message ID from an agent's inbox.
func (c *Client) RemoveFromInbox(ctx context.Context, agentID, messageID string) error {
	if err := c.rdb.ZRem(ctx, InboxKey(c.instanceName, agentID), messageID).Err(); err != nil {
		return fmt.Errorf("failed to remove inbox entry: %w", err)
	}
	return nil
}

// SetDeliveryState records a recipient's delivery state for a message.
func (c *Client) SetDeliveryState(ctx context.Context, messageID, agentID string, state DeliveryState) error {
	key := DeliveryKey(c.instanceName, messageID)
	if err := c.rdb.HSet(ctx, key, agentID, string(state)).Err(); err != nil {
		return fmt.Errorf("failed to set delivery state: %w", err)
	}
	return nil
}

// GetDeliveryStates returns the per-recipient delivery states for a message.
func (c *Client) GetDeliveryStates(ctx context.Context, messageID string) (map[string]DeliveryState, error) {
	key := DeliveryKey(c.instanceName, messageID)

	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery states: %w", err)
	}

	states := make(map[string]DeliveryState, len(raw))
	for agentID, state := range raw {
		states[agentID] = DeliveryState(state)
	}
	return states, nil
}

// AddPendingAck registers an ack deadline for a message/recipient pair.
// Members are "{message_id}:{agent_id}" scored by deadline unix ms.
func (c *Client) AddPendingAck(ctx context.Context, messageID, agentID string, deadlineMs int64) error {
	key := PendingAcksKey(c.instanceName)
	z := redis.Z{Score: float64(deadlineMs), Member: messageID + ":" + agentID}
	if err := c.rdb.ZAdd(ctx, key, z).Err(); err != nil {
		return fmt.Errorf("failed to register pending ack: %w", err)
	}
	return nil
}

// RemovePendingAck clears a pending-ack entry. Returns true if one was cleared.
func (c *Client) RemovePendingAck(ctx context.Context, messageID, agentID string) (bool, error) {
	key := PendingAcksKey(c.instanceName)
	removed, err := c.rdb.ZRem(ctx, key, messageID+":"+agentID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove pending ack: %w", err)
	}
	return removed > 0, nil
}

// OverdueAcks pops every pending-ack entry whose deadline is at or before nowMs.
// Returned members are "{message_id}:{agent_id}" pairs.
func (c *Client) OverdueAcks(ctx context.Context, nowMs int64) ([]string, error) {
	key := PendingAcksKey(c.instanceName)

	members, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", nowMs),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read overdue acks: %w", err)
	}

	if len(members) > 0 {
		args := make([]interface{}, len(members))
		for i, m := range members {
			args[i] = m
		}
		if err := c.rdb.ZRem(ctx, key, args...).Err(); err != nil {
			return nil, fmt.Errorf("failed to clear overdue acks: %w", err)
		}
	}

	return members, nil
}

// CreateSession writes a new session record and indexes it.
func (c *Client) CreateSession(ctx context.Context, s *CoordinationSession) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	hash, err := SessionToHash(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	key := SessionKey(c.instanceName, s.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write session to Redis: %w", err)
	}

	if err := c.rdb.SAdd(ctx, SessionIndexKey(c.instanceName), s.ID).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID.
// Returns (nil, redis.Nil) if the session doesn't exist.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*CoordinationSession, error) {
	key := SessionKey(c.instanceName, sessionID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToSession(hashData)
}

// UpdateSession replaces an existing session record (full replacement).
func (c *Client) UpdateSession(ctx context.Context, s *CoordinationSession) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	hash, err := SessionToHash(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	key := SessionKey(c.instanceName, s.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update session in Redis: %w", err)
	}

	return nil
}

// ListSessionIDs returns the IDs of every session.
func (c *Client) ListSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, SessionIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// publishJSON marshals v and publishes it on the given channel.
func (c *Client) publishJSON(ctx context.Context, channel string, v interface{}) error {
	payload, err := marshalJSON(v)
	if err != nil {
		return err
	}
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if a Get* call returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
