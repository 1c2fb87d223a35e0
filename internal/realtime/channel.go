// Package realtime implements the ephemeral half of Loom's collaboration
// model: per-canvas presence membership and the fire-and-forget broadcast
// bus. Nothing in this package is persisted beyond the presence hash, which
// only describes who is connected right now.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/loomnotes/loom/pkg/canvas"
	"github.com/redis/go-redis/v9"
)

// PresenceRecord is the lightweight presence entry tracked per connected
// collaborator. It is owned by the realtime layer and never persisted as
// durable canvas state.
type PresenceRecord struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	Color       string        `json:"color"`
	Cursor      *canvas.Point `json:"cursor,omitempty"`
	Selection   []string      `json:"selection,omitempty"`
	OnlineAtMs  int64         `json:"online_at_ms"`
}

// PresenceSync is a full-state membership snapshot, keyed by collaborator ID
// and excluding the local identity. It is emitted on every membership change
// and is the ONLY source of truth for who is online: the channel deliberately
// exposes no incremental join/leave events, so stale or racing notifications
// cannot corrupt membership state downstream.
type PresenceSync struct {
	Members map[string]PresenceRecord
}

// Channel is an open per-canvas realtime connection: the local collaborator
// is tracked in the canvas presence hash, and one Redis Pub/Sub subscription
// carries both presence change notifications and ephemeral broadcasts.
//
// Lifecycle: Join → (Syncs/Broadcasts consumption, Send) → Leave → Close.
// Close also leaves, so Leave is only needed for an early departure.
type Channel struct {
	rdb      *redis.Client
	canvasID string
	self     PresenceRecord

	syncs      chan PresenceSync
	broadcasts chan Message
	errs       chan error

	cancel func()
	once   sync.Once

	mu   sync.Mutex
	left bool
}

// Join opens the realtime channel for a canvas and registers the local
// collaborator as present. The returned channel is already subscribed, so no
// membership change after Join can be missed; the first PresenceSync arrives
// once the join notification loops back through Pub/Sub.
//
// A failed Join leaves no state behind; callers are expected to degrade to
// an empty membership (single-user mode) rather than abort the canvas.
func Join(ctx context.Context, redisOpts *redis.Options, canvasID string, self PresenceRecord) (*Channel, error) {
	if canvasID == "" {
		return nil, fmt.Errorf("canvas ID cannot be empty")
	}
	if self.ID == "" {
		return nil, fmt.Errorf("presence record ID cannot be empty")
	}
	if self.OnlineAtMs == 0 {
		self.OnlineAtMs = time.Now().UnixMilli()
	}

	rdb := redis.NewClient(redisOpts)

	pubsub := rdb.Subscribe(ctx, canvas.RealtimeChannel(canvasID))
	// Confirm the subscription before tracking presence so the join
	// notification below is guaranteed to reach our own pump.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to subscribe to realtime channel: %w", err)
	}

	selfJSON, err := json.Marshal(self)
	if err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to marshal presence record: %w", err)
	}

	if err := rdb.HSet(ctx, canvas.PresenceKey(canvasID), self.ID, string(selfJSON)).Err(); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to track presence: %w", err)
	}

	chCtx, cancelFunc := context.WithCancel(context.Background())

	ch := &Channel{
		rdb:        rdb,
		canvasID:   canvasID,
		self:       self,
		syncs:      make(chan PresenceSync, 8),
		broadcasts: make(chan Message, 64),
		errs:       make(chan error, 10),
		cancel:     cancelFunc,
	}

	go ch.pump(chCtx, pubsub)

	if err := ch.notifyPresence(ctx, kindPresenceJoin); err != nil {
		ch.Close()
		return nil, err
	}

	return ch, nil
}

// Syncs returns the channel of full-state presence snapshots.
func (c *Channel) Syncs() <-chan PresenceSync {
	return c.syncs
}

// Broadcasts returns the channel of decoded broadcast messages.
// Messages of unknown kinds are dropped before reaching this channel.
func (c *Channel) Broadcasts() <-chan Message {
	return c.broadcasts
}

// Errors returns the channel of non-fatal channel errors (malformed frames,
// presence read failures). The channel keeps running after errors.
func (c *Channel) Errors() <-chan error {
	return c.errs
}

// Send publishes a broadcast to every current subscriber of the canvas
// channel. Delivery is at-most-once with no buffering or replay; callers
// must tolerate loss.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	if err := c.rdb.Publish(ctx, canvas.RealtimeChannel(c.canvasID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s broadcast: %w", msg.Kind(), err)
	}

	return nil
}

// Leave untracks the local collaborator and notifies the channel. Idempotent;
// safe to call from teardown paths that may run more than once.
func (c *Channel) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	c.mu.Unlock()

	if err := c.rdb.HDel(ctx, canvas.PresenceKey(c.canvasID), c.self.ID).Err(); err != nil {
		return fmt.Errorf("failed to untrack presence: %w", err)
	}

	return c.notifyPresence(ctx, kindPresenceLeave)
}

// Close leaves the channel (best-effort) and releases all resources.
// Implements io.Closer. Safe to call multiple times.
func (c *Channel) Close() error {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Leave(ctx)

		c.cancel()
		c.rdb.Close()
	})
	return nil
}

// notifyPresence publishes a membership change notification. The payload
// names the collaborator for diagnostics only; receivers always re-read the
// full presence hash.
func (c *Channel) notifyPresence(ctx context.Context, kind string) error {
	payload, err := json.Marshal(presenceNotice{CollaboratorID: c.self.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal presence notice: %w", err)
	}

	data, err := json.Marshal(envelope{Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal presence envelope: %w", err)
	}

	if err := c.rdb.Publish(ctx, canvas.RealtimeChannel(c.canvasID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish presence notice: %w", err)
	}

	return nil
}

// pump drains the Pub/Sub subscription, turning presence notifications into
// full-state syncs and broadcast frames into typed messages.
func (c *Channel) pump(ctx context.Context, pubsub *redis.PubSub) {
	defer close(c.syncs)
	defer close(c.broadcasts)
	defer close(c.errs)
	defer pubsub.Close()

	msgs := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handleFrame(ctx, msg.Payload)
		}
	}
}

// handleFrame routes one wire frame. Presence control frames trigger a full
// membership re-read; broadcast frames are decoded and forwarded; anything
// unknown is dropped.
func (c *Channel) handleFrame(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		c.reportError(ctx, fmt.Errorf("failed to unmarshal realtime frame: %w", err))
		return
	}

	switch env.Kind {
	case kindPresenceJoin, kindPresenceLeave:
		members, err := c.readMembership(ctx)
		if err != nil {
			c.reportError(ctx, err)
			return
		}
		select {
		case c.syncs <- PresenceSync{Members: members}:
		case <-ctx.Done():
		}

	default:
		msg, err := DecodeMessage([]byte(payload))
		if err != nil {
			c.reportError(ctx, err)
			return
		}
		if msg == nil {
			// Unknown broadcast kind: ignore by contract.
			return
		}
		select {
		case c.broadcasts <- msg:
		case <-ctx.Done():
		}
	}
}

// readMembership loads the full presence hash, excluding the local identity.
func (c *Channel) readMembership(ctx context.Context) (map[string]PresenceRecord, error) {
	raw, err := c.rdb.HGetAll(ctx, canvas.PresenceKey(c.canvasID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence hash: %w", err)
	}

	members := make(map[string]PresenceRecord, len(raw))
	for id, recordJSON := range raw {
		if id == c.self.ID {
			continue
		}
		var record PresenceRecord
		if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
			// A malformed record hides one member, not the whole sync.
			continue
		}
		members[id] = record
	}

	return members, nil
}

func (c *Channel) reportError(ctx context.Context, err error) {
	select {
	case c.errs <- err:
	case <-ctx.Done():
	default:
	}
}

// Members reads the current presence membership of a canvas without joining
// it. Used by tooling that only wants to answer "who is online".
func Members(ctx context.Context, redisOpts *redis.Options, canvasID string) (map[string]PresenceRecord, error) {
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	raw, err := rdb.HGetAll(ctx, canvas.PresenceKey(canvasID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence hash: %w", err)
	}

	members := make(map[string]PresenceRecord, len(raw))
	for id, recordJSON := range raw {
		var record PresenceRecord
		if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
			continue
		}
		members[id] = record
	}

	return members, nil
}
