package realtime

import (
	"encoding/json"
	"time"
)

// Event types delivered to clients. Entity state, not the event stream, is the
// source of truth: a client that misses events re-fetches on reconnect.
const (
	EventEntityUpdate    = "entity:update"
	EventVersionRestore  = "version:restore"
	EventCommentCreate   = "comment:create"
	EventCommentUpdate   = "comment:update"
	EventCommentDelete   = "comment:delete"
	EventUserOnline      = "user:online"
	EventUserOffline     = "user:offline"
	EventUserTyping      = "user:typing"
	EventNotificationNew = "notification:new"
)

// Event is a single change notification scoped to a room.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an event with the payload marshalled in place. A payload
// that fails to marshal is sent empty rather than dropping the event.
func NewEvent(eventType, roomID string, payload any) Event {
	evt := Event{
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			evt.Payload = data
		}
	}
	return evt
}
