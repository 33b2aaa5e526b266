package realtime

import (
	"log/slog"
)

// Router fans change events out to room members. Delivery is fire-and-forget:
// at most once per session per publish, dead or slow sessions are skipped and
// never abort delivery to the rest of the room.
type Router struct {
	reg       *Registry
	backplane *Backplane
	log       *slog.Logger
}

func NewRouter(reg *Registry, backplane *Backplane, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{reg: reg, backplane: backplane, log: log}
	if backplane != nil {
		backplane.attach(r)
	}
	return r
}

// Publish delivers the event to every current member of the room and, when a
// backplane is configured, forwards it to peer instances. Publish never
// touches entity, version or snapshot state.
func (r *Router) Publish(roomID string, evt Event) {
	evt.RoomID = roomID
	r.deliverLocal(roomID, evt)
	if r.backplane != nil {
		if err := r.backplane.publish(roomID, evt); err != nil {
			r.log.Warn("backplane publish failed", "room_id", roomID, "error", err)
		}
	}
}

// deliverLocal enqueues the event to each member session exactly once.
// Enqueueing under a single pass keeps per-room ordering for events published
// by the same source.
func (r *Router) deliverLocal(roomID string, evt Event) {
	for _, s := range r.reg.roomSessions(roomID) {
		if !s.enqueue(evt) {
			r.log.Warn("dropping event for slow session",
				"session_id", s.ID, "room_id", roomID, "type", evt.Type)
		}
	}
}

// SendToActor delivers an event directly to all live sessions of one actor,
// regardless of room membership. Used for notifications.
func (r *Router) SendToActor(actorID string, evt Event) {
	for _, s := range r.reg.actorSessions(actorID) {
		if !s.enqueue(evt) {
			r.log.Warn("dropping notification for slow session",
				"session_id", s.ID, "actor_id", actorID, "type", evt.Type)
		}
	}
}

// Broadcast delivers an event to every live session. Used for presence.
func (r *Router) Broadcast(evt Event) {
	for _, s := range r.reg.allSessions() {
		s.enqueue(evt)
	}
}
