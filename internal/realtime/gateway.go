package realtime

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Frame types a client may send.
const (
	frameAuthenticate = "authenticate"
	frameJoinRoom     = "join_room"
	frameLeaveRoom    = "leave_room"
	frameHeartbeat    = "heartbeat"
	frameTyping       = "typing"
)

type clientFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	RoomID string `json:"room_id,omitempty"`
	Typing bool   `json:"typing,omitempty"`
}

type GatewayConfig struct {
	SendBuffer int
	// AllowedOrigins of "*" or empty accepts any origin.
	AllowedOrigins []string
	// FrameAuth lets a connection that arrived without X-User-ID bind
	// itself with an authenticate frame. The claimed user is not verified.
	FrameAuth bool
}

// Gateway upgrades HTTP requests to WebSocket connections and feeds their
// lifecycle into the Broadcaster.
type Gateway struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	sendBuffer  int
	frameAuth   bool
	logger      *zap.Logger
}

func NewGateway(b *Broadcaster, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	g := &Gateway{broadcaster: b, sendBuffer: cfg.SendBuffer, frameAuth: cfg.FrameAuth, logger: logger}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// ServeHTTP handles GET /ws. A caller identity in X-User-ID authenticates the
// connection immediately and pins it for the connection's lifetime.
//
// The header is trusted as-is, so /ws must only be reachable through the
// auth layer that sets it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, g.sendBuffer),
		done: make(chan struct{}),
	}
	g.broadcaster.OnConnect(c)
	g.logger.Debug("websocket connected", zap.String("connection_id", c.id))

	if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
		c.pinned = userID
		if err := g.broadcaster.OnAuthenticate(c.id, userID); err != nil {
			g.broadcaster.ReplyError(c, err.Error())
		}
	}

	go g.writePump(c)
	go g.readPump(c)
}

func (g *Gateway) readPump(c *client) {
	defer func() {
		g.broadcaster.OnDisconnect(c.id)
		c.Close()
		g.logger.Debug("websocket disconnected", zap.String("connection_id", c.id))
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		g.broadcaster.OnHeartbeat(c.id)
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Warn("websocket read error", zap.String("connection_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		g.broadcaster.OnHeartbeat(c.id)

		var f clientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			g.broadcaster.ReplyError(c, "invalid frame")
			continue
		}
		if err := g.handle(c, f); err != nil {
			g.broadcaster.ReplyError(c, err.Error())
		}
	}
}

func (g *Gateway) handle(c *client, f clientFrame) error {
	switch f.Type {
	case frameAuthenticate:
		userID := strings.TrimSpace(f.UserID)
		switch {
		case c.pinned != "" && userID != c.pinned:
			return errIdentityPinned
		case c.pinned == "" && !g.frameAuth:
			return errFrameAuthDisabled
		}
		return g.broadcaster.OnAuthenticate(c.id, userID)
	case frameJoinRoom:
		if err := g.checkRoom(c, f.RoomID); err != nil {
			return err
		}
		return g.broadcaster.OnJoinRoom(c.id, f.RoomID)
	case frameLeaveRoom:
		return g.broadcaster.OnLeaveRoom(c.id, f.RoomID)
	case frameHeartbeat:
		return nil
	case frameTyping:
		if f.RoomID == "" {
			return errRoomRequired
		}
		_, err := g.broadcaster.SendTyping(c.id, f.RoomID, f.Typing)
		return err
	}
	return errUnknownFrame
}

// checkRoom keeps clients out of other users' personal rooms.
func (g *Gateway) checkRoom(c *client, room string) error {
	if room == "" {
		return errRoomRequired
	}
	if strings.HasPrefix(room, UserRoom("")) && room != UserRoom(g.broadcaster.Registry().UserOf(c.id)) {
		return errRoomForbidden
	}
	return nil
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	errRoomRequired  = frameError("room_id is required")
	errRoomForbidden = frameError("cannot join another user's room")
	errUnknownFrame  = frameError("unknown frame type")

	errIdentityPinned    = frameError("connection is bound to another user")
	errFrameAuthDisabled = frameError("authenticate frames are disabled")
)

type frameError string

func (e frameError) Error() string { return string(e) }

// client is a gorilla connection with a buffered outbound queue. The send
// channel is never closed; done signals shutdown to the write pump.
type client struct {
	id string
	// pinned is the upstream identity from the upgrade request, if any.
	pinned string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) ID() string { return c.id }

func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket; that in turn ends the read pump.
func (c *client) Close() {
	c.once.Do(func() { close(c.done) })
}
