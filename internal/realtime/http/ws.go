package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/storycanvas-app/collab-backend/internal/auth"
	"github.com/storycanvas-app/collab-backend/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// Inbound message budget per connection. Bursty clients get throttled, not
// dropped; sustained abuse closes the connection.
const (
	inboundRate  = 20
	inboundBurst = 40
)

// Handler upgrades HTTP connections to WebSocket sessions and runs the
// per-connection read loop.
type Handler struct {
	reg      *realtime.Registry
	router   *realtime.Router
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(reg *realtime.Registry, router *realtime.Router, frontendURL string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		reg:    reg,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == frontendURL
			},
		},
		log: log,
	}
}

// Register mounts the WebSocket endpoint.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/ws", h.serve)
}

// clientMessage is the inbound frame shape. Outbound frames are
// realtime.Event encoded as JSON.
type clientMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) serve(c *gin.Context) {
	actorID := auth.ActorID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn("websocket upgrade failed", "actor_id", actorID, "error", err)
		return
	}

	sink := &wsSink{conn: conn}
	session := h.reg.Connect(actorID, sink)

	_ = sink.Send(realtime.NewEvent("session:created", "", gin.H{
		"session_id": session.ID,
		"actor_id":   actorID,
	}))

	go h.pingLoop(conn, session.ID)
	h.readLoop(conn, session.ID, actorID)
}

func (h *Handler) readLoop(conn *websocket.Conn, sessionID, actorID string) {
	defer h.teardown(sessionID, actorID)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(inboundRate), inboundBurst)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			h.log.Warn("client over message budget, closing", "session_id", sessionID, "actor_id", actorID)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.Debug("dropping malformed frame", "session_id", sessionID)
			continue
		}
		h.handleMessage(sessionID, actorID, msg)
	}
}

func (h *Handler) handleMessage(sessionID, actorID string, msg clientMessage) {
	switch msg.Type {
	case "room:join":
		if msg.RoomID == "" {
			return
		}
		if err := h.reg.JoinRoom(sessionID, msg.RoomID); err != nil {
			if !errors.Is(err, realtime.ErrSessionNotFound) {
				h.log.Warn("room join failed", "session_id", sessionID, "error", err)
			}
			return
		}
		h.router.Publish(msg.RoomID, realtime.NewEvent(realtime.EventUserOnline, msg.RoomID, gin.H{
			"actor_id": actorID,
		}))

	case "room:leave":
		if msg.RoomID == "" {
			return
		}
		if err := h.reg.LeaveRoom(sessionID, msg.RoomID); err != nil {
			return
		}
		h.router.Publish(msg.RoomID, realtime.NewEvent(realtime.EventUserOffline, msg.RoomID, gin.H{
			"actor_id": actorID,
		}))

	case realtime.EventUserTyping:
		if msg.RoomID == "" {
			return
		}
		h.router.Publish(msg.RoomID, realtime.NewEvent(realtime.EventUserTyping, msg.RoomID, gin.H{
			"actor_id": actorID,
			"state":    json.RawMessage(msg.Payload),
		}))

	default:
		h.log.Debug("ignoring unknown frame type", "type", msg.Type, "session_id", sessionID)
	}
}

// teardown unregisters the session, then announces the departure to every
// room it had joined. Disconnecting first keeps the departing session out of
// the member set the announcement fans out to.
func (h *Handler) teardown(sessionID, actorID string) {
	rooms := h.reg.RoomsOf(sessionID)
	h.reg.Disconnect(sessionID)
	for _, roomID := range rooms {
		h.router.Publish(roomID, realtime.NewEvent(realtime.EventUserOffline, roomID, gin.H{
			"actor_id": actorID,
		}))
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, sessionID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

// wsSink adapts a websocket connection to the registry's Sink. The mutex
// serializes the handshake write with the registry pump; control frames are
// safe alongside data writes per the gorilla contract.
type wsSink struct {
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

func (w *wsSink) Send(evt realtime.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(evt)
}

func (w *wsSink) Close() error {
	var err error
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = w.conn.Close()
	})
	return err
}
