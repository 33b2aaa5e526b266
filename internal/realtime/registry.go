package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Sink is the transport side of a session. Send must be safe to call from the
// session's writer goroutine only.
type Sink interface {
	Send(Event) error
	Close() error
}

// sendBuffer bounds the per-session outbound queue. A session that cannot
// drain this many events is considered slow and loses messages rather than
// blocking publishers.
const sendBuffer = 64

// Session is one live client connection mapped to an authenticated actor.
type Session struct {
	ID      string
	ActorID string

	send chan Event
	quit chan struct{}
	once sync.Once
}

// stop terminates the session's writer pump. The send channel is never
// closed: a publisher racing a teardown simply drops into a buffer nobody
// drains, which satisfies at-most-once without risking a send on a closed
// channel.
func (s *Session) stop() {
	s.once.Do(func() { close(s.quit) })
}

// Registry tracks live sessions and their room membership. All state lives in
// process memory for the lifetime of the connection; nothing is persisted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // session id -> session
	byActor  map[string]map[string]struct{} // actor id -> session ids
	rooms    map[string]map[string]struct{} // room id -> session ids
	joined   map[string]map[string]struct{} // session id -> room ids

	log *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		byActor:  make(map[string]map[string]struct{}),
		rooms:    make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
		log:      log,
	}
}

// Connect registers a new session for an already-authenticated actor and
// starts its writer pump. An actor may hold any number of concurrent sessions.
func (r *Registry) Connect(actorID string, sink Sink) *Session {
	s := &Session{
		ID:      uuid.New().String(),
		ActorID: actorID,
		send:    make(chan Event, sendBuffer),
		quit:    make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	if r.byActor[actorID] == nil {
		r.byActor[actorID] = make(map[string]struct{})
	}
	r.byActor[actorID][s.ID] = struct{}{}
	r.joined[s.ID] = make(map[string]struct{})
	r.mu.Unlock()

	go r.pump(s, sink)

	r.log.Debug("session connected", "session_id", s.ID, "actor_id", actorID)
	return s
}

// pump is the session's single writer: it serializes delivery so per-room
// ordering observed at enqueue time is preserved on the wire.
func (r *Registry) pump(s *Session, sink Sink) {
	defer sink.Close()
	for {
		select {
		case evt := <-s.send:
			if err := sink.Send(evt); err != nil {
				r.log.Debug("session write failed, disconnecting",
					"session_id", s.ID, "error", err)
				r.Disconnect(s.ID)
				return
			}
		case <-s.quit:
			return
		}
	}
}

// Disconnect removes the session from every room it joined and stops its
// pump. Safe to call more than once and concurrently with Publish.
func (r *Registry) Disconnect(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	if set := r.byActor[s.ActorID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byActor, s.ActorID)
		}
	}
	for roomID := range r.joined[sessionID] {
		if set := r.rooms[roomID]; set != nil {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	delete(r.joined, sessionID)
	r.mu.Unlock()

	s.stop()
	r.log.Debug("session disconnected", "session_id", sessionID, "actor_id", s.ActorID)
}

// JoinRoom subscribes the session to a room's broadcasts.
func (r *Registry) JoinRoom(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][sessionID] = struct{}{}
	r.joined[sessionID][roomID] = struct{}{}
	return nil
}

// LeaveRoom unsubscribes the session from a room. Leaving a room the session
// never joined is a no-op.
func (r *Registry) LeaveRoom(sessionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	if set := r.rooms[roomID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.rooms, roomID)
		}
	}
	delete(r.joined[sessionID], roomID)
	return nil
}

// SessionsFor returns the ids of every live session held by the actor.
func (r *Registry) SessionsFor(actorID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byActor[actorID]))
	for id := range r.byActor[actorID] {
		out = append(out, id)
	}
	return out
}

// MembersOf returns the ids of every session currently in the room.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns the ids of every room the session has joined.
func (r *Registry) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[sessionID]))
	for id := range r.joined[sessionID] {
		out = append(out, id)
	}
	return out
}

// ActorFor returns the actor owning a session, if the session is live.
func (r *Registry) ActorFor(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.ActorID, true
}

// enqueue offers an event to a single session without blocking. A full buffer
// drops the event; the client reconciles by re-fetching authoritative state.
func (s *Session) enqueue(evt Event) bool {
	select {
	case s.send <- evt:
		return true
	default:
		return false
	}
}

// roomSessions snapshots the member sessions of a room for delivery.
func (r *Registry) roomSessions(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// actorSessions snapshots every live session of an actor.
func (r *Registry) actorSessions(actorID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byActor[actorID]))
	for id := range r.byActor[actorID] {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// allSessions snapshots every live session.
func (r *Registry) allSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
