// Package coordinator runs the coordination core as a long-lived daemon: it
// owns the periodic sweeps (lease expiry, stale agents, overdue acks, round
// and negotiation deadlines), watches the lock and conflict event streams,
// routes agent vote and negotiation messages into the engine, and serves the
// health endpoint. The core packages themselves never schedule timers; this
// is the host that invokes them.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/conflict"
	"github.com/dyluth/drey/internal/hub"
	"github.com/dyluth/drey/internal/lock"
	"github.com/dyluth/drey/pkg/board"
	"golang.org/x/sync/errgroup"
)

// coordinatorInboxBatch bounds how many queued messages one sweep dispatches.
const coordinatorInboxBatch = 100

// Daemon wires the lock manager, hub and conflict engine over one board
// client and drives their periodic maintenance.
type Daemon struct {
	client       *board.Client
	instanceName string
	cfg          *config.DreyConfig

	locks     *lock.Manager
	hub       *hub.Hub
	conflicts *conflict.Engine

	healthServer *HealthServer
}

// New assembles the coordination core from a board client and configuration.
func New(client *board.Client, instanceName string, cfg *config.DreyConfig) *Daemon {
	locks := lock.NewManager(client, cfg.Coordination.Lock)
	h := hub.New(client, locks, cfg.Coordination.Hub)
	engine := conflict.NewEngine(client, h, locks, cfg.Coordination)

	return &Daemon{
		client:       client,
		instanceName: instanceName,
		cfg:          cfg,
		locks:        locks,
		hub:          h,
		conflicts:    engine,
		healthServer: NewHealthServer(client),
	}
}

// Locks exposes the lock manager to embedding hosts.
func (d *Daemon) Locks() *lock.Manager { return d.locks }

// Hub exposes the coordination hub to embedding hosts.
func (d *Daemon) Hub() *hub.Hub { return d.hub }

// Conflicts exposes the conflict engine to embedding hosts.
func (d *Daemon) Conflicts() *conflict.Engine { return d.conflicts }

// Run starts the health server, the event watchers and the sweep loop, and
// blocks until the context is cancelled or a loop fails. The coordinator
// registers itself as an agent so votes and negotiation replies can be
// addressed to it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer d.healthServer.Shutdown(context.Background())

	if err := d.hub.RegisterAgent(ctx, &board.AgentRecord{
		ID:        conflict.CoordinatorAgentID,
		AgentType: "coordinator",
	}); err != nil {
		return fmt.Errorf("failed to register coordinator agent: %w", err)
	}

	log.Printf("[Coordinator] Starting for instance '%s'", d.instanceName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.watchLocks(gctx) })
	g.Go(func() error { return d.watchConflicts(gctx) })
	g.Go(func() error { return d.watchMessages(gctx) })
	g.Go(func() error { return d.sweepLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchLocks logs lock audit transitions as they are published. Contention
// itself is reported by the requester through the conflict engine's direct
// query path; this stream gives operators the acquire/release/expiry picture.
func (d *Daemon) watchLocks(ctx context.Context) error {
	subscription, err := d.client.SubscribeLockEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lock events: %w", err)
	}
	defer subscription.Close()

	log.Printf("[Coordinator] Subscribed to lock events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-subscription.Events():
			if !ok {
				log.Printf("[Coordinator] Lock subscription closed")
				return nil
			}
			d.logEvent("lock_event", map[string]interface{}{
				"resource_id": event.ResourceID,
				"agent_id":    event.AgentID,
				"event_type":  string(event.Type),
			})

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			// Non-fatal: keep watching
			log.Printf("[Coordinator] Lock subscription error: %v", err)
		}
	}
}

// watchConflicts logs conflict lifecycle transitions as they are published.
// Observation only: resolution is driven by API calls and the sweep loop.
func (d *Daemon) watchConflicts(ctx context.Context) error {
	subscription, err := d.client.SubscribeConflictEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to conflict events: %w", err)
	}
	defer subscription.Close()

	log.Printf("[Coordinator] Subscribed to conflict events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c, ok := <-subscription.Events():
			if !ok {
				log.Printf("[Coordinator] Conflict subscription closed")
				return nil
			}
			d.logEvent("conflict_event", map[string]interface{}{
				"conflict_id": c.ID,
				"type":        string(c.Type),
				"status":      string(c.Status),
			})

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			// Non-fatal: keep watching
			log.Printf("[Coordinator] Conflict subscription error: %v", err)
		}
	}
}

// watchMessages routes agent traffic addressed to the coordinator into the
// conflict engine as it is published. Pub/sub is at-most-once: the queued
// inbox copy is drained on the next sweep as the durable path, so a message
// seen here may be dispatched again there. Re-applying a vote is a harmless
// re-vote; replays of settled moves are rejected by the engine and logged.
func (d *Daemon) watchMessages(ctx context.Context) error {
	subscription, err := d.client.SubscribeMessageEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to message events: %w", err)
	}
	defer subscription.Close()

	log.Printf("[Coordinator] Subscribed to message events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-subscription.Events():
			if !ok {
				log.Printf("[Coordinator] Message subscription closed")
				return nil
			}
			d.dispatchMessage(ctx, msg)

		case err, ok := <-subscription.Errors():
			if !ok {
				return nil
			}
			// Non-fatal: keep watching
			log.Printf("[Coordinator] Message subscription error: %v", err)
		}
	}
}

// dispatchMessage feeds consensus votes and negotiation moves into the
// engine on behalf of their sender. Engine-forwarded negotiation replies
// carry no action field and fall through untouched; rejected moves are an
// agent-side fault and are logged, never fatal.
func (d *Daemon) dispatchMessage(ctx context.Context, msg *board.Message) {
	switch msg.Type {
	case board.MessageTypeConsensusVote:
		roundID, _ := msg.Payload["round_id"].(string)
		option, _ := msg.Payload["option"].(string)
		if roundID == "" || option == "" {
			log.Printf("[Coordinator] Malformed vote %s from %s dropped", msg.ID, msg.SenderID)
			return
		}
		if err := d.conflicts.CastVote(ctx, roundID, msg.SenderID, option); err != nil {
			log.Printf("[Coordinator] Vote by %s on round %s rejected: %v", msg.SenderID, roundID, err)
			return
		}
		d.logEvent("vote_dispatched", map[string]interface{}{
			"round_id": roundID,
			"agent_id": msg.SenderID,
			"option":   option,
		})

	case board.MessageTypeNegotiationReply:
		negotiationID, _ := msg.Payload["negotiation_id"].(string)
		action, _ := msg.Payload["action"].(string)
		if negotiationID == "" || action == "" {
			return
		}

		var err error
		switch action {
		case "counter":
			value, _ := msg.Payload["proposal"].(string)
			_, err = d.conflicts.CounterProposal(ctx, negotiationID, msg.SenderID, value)
		case "accept":
			_, err = d.conflicts.AcceptProposal(ctx, negotiationID, msg.SenderID)
		default:
			log.Printf("[Coordinator] Unknown negotiation action %q in message %s dropped", action, msg.ID)
			return
		}
		if err != nil {
			log.Printf("[Coordinator] Negotiation %s by %s on %s rejected: %v", action, msg.SenderID, negotiationID, err)
			return
		}
		d.logEvent("negotiation_dispatched", map[string]interface{}{
			"negotiation_id": negotiationID,
			"agent_id":       msg.SenderID,
			"action":         action,
		})
	}
}

// sweepLoop runs every periodic maintenance pass on the configured interval.
func (d *Daemon) sweepLoop(ctx context.Context) error {
	interval := d.cfg.Coordination.SweepInterval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[Coordinator] Sweep loop running every %s", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs one pass of every sweep. Individual failures are logged and
// do not stop the remaining sweeps; the next tick retries.
func (d *Daemon) sweepOnce(ctx context.Context) {
	if err := d.hub.Heartbeat(ctx, conflict.CoordinatorAgentID); err != nil {
		log.Printf("[Coordinator] Heartbeat failed: %v", err)
	}

	// Durable dispatch path behind the pub/sub watcher
	if msgs, err := d.hub.DrainInbox(ctx, conflict.CoordinatorAgentID, coordinatorInboxBatch); err != nil {
		log.Printf("[Coordinator] Inbox drain failed: %v", err)
	} else {
		for _, msg := range msgs {
			d.dispatchMessage(ctx, msg)
		}
	}

	if expired, err := d.locks.SweepExpired(ctx); err != nil {
		log.Printf("[Coordinator] Lease sweep failed: %v", err)
	} else if len(expired) > 0 {
		d.logEvent("leases_expired", map[string]interface{}{"resources": expired})
	}

	if _, err := d.locks.TrimAudit(ctx); err != nil {
		log.Printf("[Coordinator] Audit trim failed: %v", err)
	}

	if decayed, err := d.hub.MarkOfflineIfStale(ctx); err != nil {
		log.Printf("[Coordinator] Stale agent sweep failed: %v", err)
	} else if len(decayed) > 0 {
		d.logEvent("agents_decayed", map[string]interface{}{"agents": decayed})
	}

	if _, err := d.hub.SweepAcks(ctx); err != nil {
		log.Printf("[Coordinator] Ack sweep failed: %v", err)
	}

	if reaped, err := d.hub.SweepExpiredMessages(ctx); err != nil {
		log.Printf("[Coordinator] Message sweep failed: %v", err)
	} else if len(reaped) > 0 {
		d.logEvent("messages_expired", map[string]interface{}{"deliveries": reaped})
	}

	if failed, err := d.conflicts.SweepRounds(ctx); err != nil {
		log.Printf("[Coordinator] Round sweep failed: %v", err)
	} else if len(failed) > 0 {
		d.logEvent("rounds_timed_out", map[string]interface{}{"rounds": failed})
	}

	if failed, err := d.conflicts.SweepNegotiations(ctx); err != nil {
		log.Printf("[Coordinator] Negotiation sweep failed: %v", err)
	} else if len(failed) > 0 {
		d.logEvent("negotiations_timed_out", map[string]interface{}{"negotiations": failed})
	}
}

// logEvent logs a structured event in JSON format.
func (d *Daemon) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType
	data["instance"] = d.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
