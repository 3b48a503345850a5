package board

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Pub/Sub subscriptions
//
// Events are delivered on buffered channels (size 10) to prevent blocking.
// If a subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery). Subscriptions must be closed by the caller;
// context cancellation also stops them.

// Subscription is an active Pub/Sub subscription delivering decoded events of
// type T. Caller must call Close() when done to clean up resources.
type Subscription[T any] struct {
	events <-chan *T
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of decoded events.
// The channel is closed when the subscription closes or the context is cancelled.
func (s *Subscription[T]) Events() <-chan *T {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - malformed messages are skipped.
func (s *Subscription[T]) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription[T]) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// subscribe starts a Pub/Sub subscription on channel and decodes each payload
// into a fresh T.
func subscribe[T any](ctx context.Context, c *Client, channel string) (*Subscription[T], error) {
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event := new(T)
				if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event on %s: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription[T]{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// SubscribeLockEvents subscribes to lock audit events for this instance.
// Every Acquired/Released/Expired/ForceReleased transition is delivered.
func (c *Client) SubscribeLockEvents(ctx context.Context) (*Subscription[LockEvent], error) {
	return subscribe[LockEvent](ctx, c, LockEventsChannel(c.instanceName))
}

// SubscribeMessageEvents subscribes to message creation events for this instance.
func (c *Client) SubscribeMessageEvents(ctx context.Context) (*Subscription[Message], error) {
	return subscribe[Message](ctx, c, MessageEventsChannel(c.instanceName))
}

// SubscribeConflictEvents subscribes to conflict create/update events for this
// instance. Both detection and every status transition are delivered.
func (c *Client) SubscribeConflictEvents(ctx context.Context) (*Subscription[Conflict], error) {
	return subscribe[Conflict](ctx, c, ConflictEventsChannel(c.instanceName))
}

// marshalJSON marshals v for publication.
func marshalJSON(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return payload, nil
}
