package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "room:" // Pub/Sub channel per room: room:{room_id}

// envelope wraps an event on the wire so instances can skip their own
// publications when they arrive back from redis.
type envelope struct {
	Origin string `json:"origin"`
	RoomID string `json:"room_id"`
	Event  Event  `json:"event"`
}

// Backplane extends room fan-out across process instances over redis pub/sub.
// Each instance delivers locally first, then forwards; remote-origin events
// are delivered to local members on receipt.
type Backplane struct {
	rdb        *redis.Client
	instanceID string
	router     *Router
	log        *slog.Logger
	cancel     context.CancelFunc
}

func NewBackplane(rdb *redis.Client, instanceID string, log *slog.Logger) *Backplane {
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Backplane{rdb: rdb, instanceID: instanceID, log: log}
}

func (b *Backplane) attach(r *Router) {
	b.router = r
}

func (b *Backplane) publish(roomID string, evt Event) error {
	data, err := json.Marshal(envelope{Origin: b.instanceID, RoomID: roomID, Event: evt})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(context.Background(), roomChannelPrefix+roomID, data).Err(); err != nil {
		return fmt.Errorf("publish to backplane: %w", err)
	}
	return nil
}

// Start subscribes to all room channels and relays remote-origin events to
// local members until Stop is called or ctx is cancelled.
func (b *Backplane) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	sub := b.rdb.PSubscribe(ctx, roomChannelPrefix+"*")

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.relay(msg.Payload)
			}
		}
	}()
}

func (b *Backplane) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Backplane) relay(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn("dropping malformed backplane message", "error", err)
		return
	}
	if env.Origin == b.instanceID {
		return // already delivered locally at publish time
	}
	if b.router != nil {
		b.router.deliverLocal(env.RoomID, env.Event)
	}
}
