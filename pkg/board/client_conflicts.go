package board

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CreateConflict writes a conflict record, indexes it, and publishes the full
// conflict JSON on the conflict events channel.
func (c *Client) CreateConflict(ctx context.Context, conflict *Conflict) error {
	if err := conflict.Validate(); err != nil {
		return fmt.Errorf("invalid conflict: %w", err)
	}

	hash, err := ConflictToHash(conflict)
	if err != nil {
		return fmt.Errorf("failed to serialize conflict: %w", err)
	}

	key := ConflictKey(c.instanceName, conflict.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write conflict to Redis: %w", err)
	}

	if err := c.rdb.SAdd(ctx, ConflictIndexKey(c.instanceName), conflict.ID).Err(); err != nil {
		return fmt.Errorf("failed to index conflict: %w", err)
	}

	return c.publishJSON(ctx, ConflictEventsChannel(c.instanceName), conflict)
}

// GetConflict retrieves a conflict by ID.
// Returns (nil, redis.Nil) if the conflict doesn't exist.
func (c *Client) GetConflict(ctx context.Context, conflictID string) (*Conflict, error) {
	key := ConflictKey(c.instanceName, conflictID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conflict from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToConflict(hashData)
}

// UpdateConflict replaces an existing conflict record (full replacement) and
// publishes the updated conflict on the conflict events channel.
func (c *Client) UpdateConflict(ctx context.Context, conflict *Conflict) error {
	if err := conflict.Validate(); err != nil {
		return fmt.Errorf("invalid conflict: %w", err)
	}

	hash, err := ConflictToHash(conflict)
	if err != nil {
		return fmt.Errorf("failed to serialize conflict: %w", err)
	}

	key := ConflictKey(c.instanceName, conflict.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update conflict in Redis: %w", err)
	}

	return c.publishJSON(ctx, ConflictEventsChannel(c.instanceName), conflict)
}

// ListConflictIDs returns the IDs of every recorded conflict.
func (c *Client) ListConflictIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, ConflictIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return ids, nil
}

// CreateRound writes a consensus round record and indexes it as open.
func (c *Client) CreateRound(ctx context.Context, round *ConsensusRound) error {
	if err := round.Validate(); err != nil {
		return fmt.Errorf("invalid round: %w", err)
	}

	hash, err := RoundToHash(round)
	if err != nil {
		return fmt.Errorf("failed to serialize round: %w", err)
	}

	key := RoundKey(c.instanceName, round.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write round to Redis: %w", err)
	}

	if err := c.rdb.SAdd(ctx, RoundIndexKey(c.instanceName), round.ID).Err(); err != nil {
		return fmt.Errorf("failed to index round: %w", err)
	}

	if round.Status == RoundStatusOpen {
		if err := c.rdb.SAdd(ctx, OpenRoundsKey(c.instanceName), round.ID).Err(); err != nil {
			return fmt.Errorf("failed to index open round: %w", err)
		}
	}

	return nil
}

// GetRound retrieves a consensus round by ID.
// Returns (nil, redis.Nil) if the round doesn't exist.
func (c *Client) GetRound(ctx context.Context, roundID string) (*ConsensusRound, error) {
	key := RoundKey(c.instanceName, roundID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read round from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToRound(hashData)
}

// UpdateRound replaces an existing round record. A round leaving the open
// state is removed from the open-rounds index.
func (c *Client) UpdateRound(ctx context.Context, round *ConsensusRound) error {
	if err := round.Validate(); err != nil {
		return fmt.Errorf("invalid round: %w", err)
	}

	hash, err := RoundToHash(round)
	if err != nil {
		return fmt.Errorf("failed to serialize round: %w", err)
	}

	key := RoundKey(c.instanceName, round.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update round in Redis: %w", err)
	}

	if round.Status != RoundStatusOpen {
		if err := c.rdb.SRem(ctx, OpenRoundsKey(c.instanceName), round.ID).Err(); err != nil {
			return fmt.Errorf("failed to deindex open round: %w", err)
		}
	}

	return nil
}

// ListRoundIDs returns the IDs of every consensus round ever opened.
func (c *Client) ListRoundIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, RoundIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	return ids, nil
}

// OpenRoundIDs returns the IDs of rounds still collecting votes.
func (c *Client) OpenRoundIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, OpenRoundsKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open rounds: %w", err)
	}
	return ids, nil
}

// SetVote records an agent's vote in a round's votes hash. HSET gives
// last-vote-wins semantics while the round is open.
func (c *Client) SetVote(ctx context.Context, roundID, agentID, option string) error {
	key := RoundVotesKey(c.instanceName, roundID)
	if err := c.rdb.HSet(ctx, key, agentID, option).Err(); err != nil {
		return fmt.Errorf("failed to write vote: %w", err)
	}
	return nil
}

// GetAllVotes retrieves all votes for a round as agent_id → chosen option.
// Returns an empty map if no votes exist (not an error).
func (c *Client) GetAllVotes(ctx context.Context, roundID string) (map[string]string, error) {
	key := RoundVotesKey(c.instanceName, roundID)

	votes, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read votes: %w", err)
	}
	return votes, nil
}

// CreateNegotiation writes a negotiation record and indexes it as open.
func (c *Client) CreateNegotiation(ctx context.Context, n *NegotiationState) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid negotiation: %w", err)
	}

	hash, err := NegotiationToHash(n)
	if err != nil {
		return fmt.Errorf("failed to serialize negotiation: %w", err)
	}

	key := NegotiationKey(c.instanceName, n.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write negotiation to Redis: %w", err)
	}

	if n.Status == NegotiationStatusOpen {
		if err := c.rdb.SAdd(ctx, OpenNegotiationsKey(c.instanceName), n.ID).Err(); err != nil {
			return fmt.Errorf("failed to index open negotiation: %w", err)
		}
	}

	return nil
}

// GetNegotiation retrieves a negotiation by ID.
// Returns (nil, redis.Nil) if the negotiation doesn't exist.
func (c *Client) GetNegotiation(ctx context.Context, negotiationID string) (*NegotiationState, error) {
	key := NegotiationKey(c.instanceName, negotiationID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read negotiation from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToNegotiation(hashData)
}

// UpdateNegotiation replaces an existing negotiation record. A negotiation
// leaving the open state is removed from the open index.
func (c *Client) UpdateNegotiation(ctx context.Context, n *NegotiationState) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid negotiation: %w", err)
	}

	hash, err := NegotiationToHash(n)
	if err != nil {
		return fmt.Errorf("failed to serialize negotiation: %w", err)
	}

	key := NegotiationKey(c.instanceName, n.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update negotiation in Redis: %w", err)
	}

	if n.Status != NegotiationStatusOpen {
		if err := c.rdb.SRem(ctx, OpenNegotiationsKey(c.instanceName), n.ID).Err(); err != nil {
			return fmt.Errorf("failed to deindex open negotiation: %w", err)
		}
	}

	return nil
}

// OpenNegotiationIDs returns the IDs of negotiations still in progress.
func (c *Client) OpenNegotiationIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, OpenNegotiationsKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open negotiations: %w", err)
	}
	return ids, nil
}

// PutModel upserts the prediction model covering a conflict category.
// There is at most one model per category; retraining replaces it in place.
func (c *Client) PutModel(ctx context.Context, m *PredictionModel) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}

	hash, err := ModelToHash(m)
	if err != nil {
		return fmt.Errorf("failed to serialize model: %w", err)
	}

	key := ModelKey(c.instanceName, m.ConflictType)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write model to Redis: %w", err)
	}

	return nil
}

// GetModel retrieves the prediction model for a conflict category.
// Returns (nil, redis.Nil) if no model covers the category.
func (c *Client) GetModel(ctx context.Context, conflictType ConflictType) (*PredictionModel, error) {
	key := ModelKey(c.instanceName, conflictType)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read model from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	return HashToModel(hashData)
}
