package hub

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dyluth/drey/pkg/board"
	"github.com/google/uuid"
)

// NewMessage builds a message record with a fresh ID and creation timestamp.
// ttlMs of 0 means the message never expires.
func (h *Hub) NewMessage(msgType board.MessageType, priority board.MessagePriority, senderID string, recipientIDs []string, payload map[string]interface{}) *board.Message {
	return &board.Message{
		ID:           uuid.New().String(),
		Type:         msgType,
		Priority:     priority,
		SenderID:     senderID,
		RecipientIDs: recipientIDs,
		Payload:      payload,
		CreatedAtMs:  h.now().UnixMilli(),
	}
}

// SendMessage validates recipients and enqueues the message for pull-based
// delivery, ordered by priority then arrival. Never blocks on a receiver.
//
// Every recipient must be a registered agent (ErrAgentNotFound otherwise) -
// Offline recipients are still known agents, so sending to one succeeds, but
// its delivery state is marked stale rather than silently dropped. When the
// message requires an ack, a pending-ack deadline is registered per recipient.
func (h *Hub) SendMessage(ctx context.Context, msg *board.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	nowMs := h.now().UnixMilli()
	timeoutMs := h.heartbeatTimeout.Milliseconds()
	initialDelivery := make(map[string]board.DeliveryState, len(msg.RecipientIDs))

	for _, recipientID := range msg.RecipientIDs {
		agent, err := h.client.GetAgent(ctx, recipientID)
		if err != nil {
			if board.IsNotFound(err) {
				return fmt.Errorf("%w: recipient %s", ErrAgentNotFound, recipientID)
			}
			return err
		}

		if agent.IsOnlineAt(nowMs, timeoutMs) {
			initialDelivery[recipientID] = board.DeliveryPending
		} else {
			initialDelivery[recipientID] = board.DeliveryStale
			log.Printf("[Hub] Message %s to offline agent %s marked stale", msg.ID, recipientID)
		}
	}

	if err := h.client.CreateMessage(ctx, msg, initialDelivery); err != nil {
		return err
	}

	if msg.RequiresAck {
		deadlineMs := nowMs + h.ackTimeout.Milliseconds()
		for _, recipientID := range msg.RecipientIDs {
			if err := h.client.AddPendingAck(ctx, msg.ID, recipientID, deadlineMs); err != nil {
				return err
			}
		}
	}

	return nil
}

// DrainInbox removes and returns up to max messages from an agent's inbox in
// priority-then-FIFO order, marking each delivered. Messages past their
// expiry are reaped (delivery state set to expired) and skipped rather than
// returned. Pull-based: the hub never pushes.
func (h *Hub) DrainInbox(ctx context.Context, agentID string, max int) ([]*board.Message, error) {
	if exists, err := h.client.AgentExists(ctx, agentID); err != nil {
		return nil, err
	} else if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	ids, err := h.client.PopInbox(ctx, agentID, max)
	if err != nil {
		return nil, err
	}

	nowMs := h.now().UnixMilli()
	messages := make([]*board.Message, 0, len(ids))

	for _, messageID := range ids {
		msg, err := h.client.GetMessage(ctx, messageID)
		if err != nil {
			if board.IsNotFound(err) {
				// Message record vanished (trimmed); skip the dangling inbox entry
				continue
			}
			return nil, err
		}

		if msg.ExpiresAtMs > 0 && nowMs >= msg.ExpiresAtMs {
			if err := h.client.SetDeliveryState(ctx, messageID, agentID, board.DeliveryExpired); err != nil {
				return nil, err
			}
			continue
		}

		if err := h.client.SetDeliveryState(ctx, messageID, agentID, board.DeliveryDelivered); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Ack records an agent's acknowledgement of a message and clears its
// pending-ack deadline.
func (h *Hub) Ack(ctx context.Context, messageID, agentID string) error {
	if _, err := h.client.GetMessage(ctx, messageID); err != nil {
		if board.IsNotFound(err) {
			return fmt.Errorf("message %s not found", messageID)
		}
		return err
	}

	if err := h.client.SetDeliveryState(ctx, messageID, agentID, board.DeliveryAcked); err != nil {
		return err
	}

	if _, err := h.client.RemovePendingAck(ctx, messageID, agentID); err != nil {
		return err
	}
	return nil
}

// DeliveryStates returns the per-recipient delivery states for a message.
func (h *Hub) DeliveryStates(ctx context.Context, messageID string) (map[string]board.DeliveryState, error) {
	return h.client.GetDeliveryStates(ctx, messageID)
}

// SweepExpiredMessages reaps messages past their expiry from every inbox,
// marking each reaped delivery expired so senders observe the outcome even
// when the recipient never drains. Returns the "{message_id}:{agent_id}"
// pairs reaped this pass. Host-invoked.
func (h *Hub) SweepExpiredMessages(ctx context.Context) ([]string, error) {
	agentIDs, err := h.client.ListAgentIDs(ctx)
	if err != nil {
		return nil, err
	}

	nowMs := h.now().UnixMilli()
	var reaped []string

	for _, agentID := range agentIDs {
		messageIDs, err := h.client.InboxMessageIDs(ctx, agentID)
		if err != nil {
			return nil, err
		}

		for _, messageID := range messageIDs {
			msg, err := h.client.GetMessage(ctx, messageID)
			if err != nil {
				if board.IsNotFound(err) {
					// Dangling inbox entry for a vanished record
					if err := h.client.RemoveFromInbox(ctx, agentID, messageID); err != nil {
						return nil, err
					}
					continue
				}
				return nil, err
			}

			if msg.ExpiresAtMs == 0 || nowMs < msg.ExpiresAtMs {
				continue
			}

			if err := h.client.RemoveFromInbox(ctx, agentID, messageID); err != nil {
				return nil, err
			}
			if err := h.client.SetDeliveryState(ctx, messageID, agentID, board.DeliveryExpired); err != nil {
				return nil, err
			}
			reaped = append(reaped, messageID+":"+agentID)
			log.Printf("[Hub] Message %s expired undelivered to %s, reaped", messageID, agentID)
		}
	}

	return reaped, nil
}

// SweepAcks marks overdue unacknowledged deliveries stale. Returns the
// "{message_id}:{agent_id}" pairs that went overdue this pass. Host-invoked;
// an overdue ack is an expected condition, not an error.
func (h *Hub) SweepAcks(ctx context.Context) ([]string, error) {
	overdue, err := h.client.OverdueAcks(ctx, h.now().UnixMilli())
	if err != nil {
		return nil, err
	}

	for _, member := range overdue {
		messageID, agentID, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}

		states, err := h.client.GetDeliveryStates(ctx, messageID)
		if err != nil {
			log.Printf("[Hub] Ack sweep: failed to read delivery for %s: %v", messageID, err)
			continue
		}
		// An ack that landed after the deadline read still counts
		if states[agentID] == board.DeliveryAcked {
			continue
		}

		if err := h.client.SetDeliveryState(ctx, messageID, agentID, board.DeliveryStale); err != nil {
			log.Printf("[Hub] Ack sweep: failed to mark %s stale for %s: %v", messageID, agentID, err)
			continue
		}
		log.Printf("[Hub] Message %s unacked by %s past deadline, marked stale", messageID, agentID)
	}

	return overdue, nil
}
