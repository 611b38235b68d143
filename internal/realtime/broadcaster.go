package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
)

var ErrNotAuthenticated = errors.New("connection is not authenticated")

type TargetKind string

const (
	TargetUsers TargetKind = "users"
	TargetRoom  TargetKind = "room"
	TargetAll   TargetKind = "all"
)

// Target names the connections a frame is meant for on every node.
type Target struct {
	Kind TargetKind `json:"kind"`
	IDs  []string   `json:"ids,omitempty"`
}

// Publisher forwards frames to the other nodes. *Relay satisfies it.
type Publisher interface {
	Publish(t Target, frame []byte)
}

// Hooks are optional metric callbacks; see metrics.RealtimeHooks.
type Hooks struct {
	OnGauge   func(connections, users int)
	OnEvent   func(eventType string)
	OnDropped func()
}

type Options struct {
	Hooks Hooks
	// Now is overridable for tests.
	Now func() time.Time
}

// Broadcaster turns events into frames and writes them to registry
// connections. Targets are snapshotted under the registry lock and written
// after it is released.
type Broadcaster struct {
	registry *Registry
	relay    Publisher
	hooks    Hooks
	now      func() time.Time
	logger   *zap.Logger
}

func NewBroadcaster(registry *Registry, logger *zap.Logger, opts Options) *Broadcaster {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Broadcaster{registry: registry, hooks: opts.Hooks, now: opts.Now, logger: logger}
}

// SetRelay enables cross-node fan-out. Call it before serving connections.
func (b *Broadcaster) SetRelay(p Publisher) { b.relay = p }

func (b *Broadcaster) Registry() *Registry { return b.registry }

func (b *Broadcaster) SendToUser(userID string, ev Event) int {
	return b.SendToUsers([]string{userID}, ev)
}

func (b *Broadcaster) SendToUsers(userIDs []string, ev Event) int {
	return b.publish(Target{Kind: TargetUsers, IDs: userIDs}, ev)
}

func (b *Broadcaster) SendToRoom(room string, ev Event) int {
	if ev.RoomID == "" {
		ev.RoomID = room
	}
	return b.publish(Target{Kind: TargetRoom, IDs: []string{room}}, ev)
}

// BroadcastAll reaches every connection, authenticated or not.
func (b *Broadcaster) BroadcastAll(ev Event) int {
	return b.publish(Target{Kind: TargetAll}, ev)
}

func (b *Broadcaster) SendNotificationToUser(userID string, n *domain.Notification) int {
	return b.SendToUser(userID, Event{Type: EventNotification, UserID: userID, Data: summarize(n)})
}

func (b *Broadcaster) SendNotificationUpdated(userID string, n *domain.Notification) int {
	return b.SendToUser(userID, Event{Type: EventNotificationUpdated, UserID: userID, Data: summarize(n)})
}

func (b *Broadcaster) SendNotificationRead(userID string, n *domain.Notification, ch domain.Channel) int {
	return b.SendToUser(userID, Event{
		Type:   EventNotificationRead,
		UserID: userID,
		Data:   ReadData{NotificationID: n.ID, Channel: ch, IsRead: n.IsRead},
	})
}

func (b *Broadcaster) SendSystemNotification(msg SystemMessage) int {
	return b.BroadcastAll(Event{Type: EventSystemNotification, Data: msg})
}

func (b *Broadcaster) SendMaintenanceNotification(msg SystemMessage) int {
	return b.BroadcastAll(Event{Type: EventMaintenanceNotification, Data: msg})
}

// SendTyping relays a typing indicator from connID to the rest of room.
func (b *Broadcaster) SendTyping(connID, room string, typing bool) (int, error) {
	userID := b.registry.UserOf(connID)
	if userID == "" {
		return 0, ErrNotAuthenticated
	}
	ev := Event{Type: EventTyping, UserID: userID, RoomID: room, Data: TypingData{Typing: typing}}
	frame, ok := b.encode(&ev)
	if !ok {
		return 0, nil
	}
	targets := b.registry.roomTargets(room)
	n := 0
	for _, c := range targets {
		if c.ID() != connID && b.write(c, frame) {
			n++
		}
	}
	b.forward(Target{Kind: TargetRoom, IDs: []string{room}}, frame)
	return n, nil
}

func (b *Broadcaster) OnConnect(c Conn) {
	b.registry.Register(c, b.now())
	b.reply(c, Event{Type: EventConnected, Data: map[string]string{"connection_id": c.ID()}})
	b.gauge()
}

func (b *Broadcaster) OnAuthenticate(connID, userID string) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	binding, err := b.registry.Authenticate(connID, userID, b.now())
	if err != nil {
		return err
	}
	if binding.PreviousOffline {
		b.presence(binding.Previous, false)
	}
	if binding.Online {
		b.presence(userID, true)
	}
	if c := b.registry.Conn(connID); c != nil {
		b.reply(c, Event{Type: EventAuthenticated, UserID: userID})
	}
	b.gauge()
	return nil
}

func (b *Broadcaster) OnJoinRoom(connID, room string) error {
	return b.registry.JoinRoom(connID, room)
}

func (b *Broadcaster) OnLeaveRoom(connID, room string) error {
	return b.registry.LeaveRoom(connID, room)
}

func (b *Broadcaster) OnHeartbeat(connID string) bool {
	return b.registry.Touch(connID, b.now())
}

func (b *Broadcaster) OnDisconnect(connID string) {
	rm, ok := b.registry.Disconnect(connID)
	if !ok {
		return
	}
	b.finish(rm)
	b.gauge()
}

// CleanupInactive force-disconnects idle connections and returns how many
// were closed.
func (b *Broadcaster) CleanupInactive(threshold time.Duration) int {
	removed := b.registry.CleanupInactive(threshold, b.now())
	for _, rm := range removed {
		b.finish(rm)
	}
	if len(removed) > 0 {
		b.gauge()
	}
	return len(removed)
}

// DeliverLocal writes an already encoded frame to this node's connections.
// The relay calls it for frames published by other nodes.
func (b *Broadcaster) DeliverLocal(t Target, frame []byte) int {
	n := 0
	for _, c := range b.targets(t) {
		if b.write(c, frame) {
			n++
		}
	}
	return n
}

// ReplyError sends an error ack to a single connection.
func (b *Broadcaster) ReplyError(c Conn, msg string) {
	b.reply(c, Event{Type: EventError, Data: map[string]string{"message": msg}})
}

func (b *Broadcaster) publish(t Target, ev Event) int {
	frame, ok := b.encode(&ev)
	if !ok {
		return 0
	}
	n := b.DeliverLocal(t, frame)
	b.forward(t, frame)
	return n
}

func (b *Broadcaster) forward(t Target, frame []byte) {
	if b.relay != nil {
		b.relay.Publish(t, frame)
	}
}

func (b *Broadcaster) encode(ev *Event) ([]byte, bool) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to encode realtime event", zap.String("type", string(ev.Type)), zap.Error(err))
		return nil, false
	}
	if b.hooks.OnEvent != nil {
		b.hooks.OnEvent(string(ev.Type))
	}
	return frame, true
}

func (b *Broadcaster) reply(c Conn, ev Event) {
	ev.Timestamp = b.now()
	frame, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to encode ack", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	b.write(c, frame)
}

func (b *Broadcaster) write(c Conn, frame []byte) bool {
	if c.Send(frame) {
		return true
	}
	b.logger.Warn("client send buffer full, event dropped", zap.String("connection_id", c.ID()))
	if b.hooks.OnDropped != nil {
		b.hooks.OnDropped()
	}
	return false
}

func (b *Broadcaster) targets(t Target) []Conn {
	switch t.Kind {
	case TargetUsers:
		return b.registry.userTargets(t.IDs...)
	case TargetRoom:
		var out []Conn
		for _, room := range t.IDs {
			out = append(out, b.registry.roomTargets(room)...)
		}
		return out
	case TargetAll:
		return b.registry.allTargets()
	}
	return nil
}

func (b *Broadcaster) finish(rm Removal) {
	rm.Conn.Close()
	if rm.Offline {
		b.presence(rm.UserID, false)
	}
}

func (b *Broadcaster) presence(userID string, online bool) {
	b.BroadcastAll(Event{Type: EventUserPresence, UserID: userID, Data: PresenceData{Online: online}})
}

func (b *Broadcaster) gauge() {
	if b.hooks.OnGauge != nil {
		b.hooks.OnGauge(b.registry.Counts())
	}
}
