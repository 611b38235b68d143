package realtime

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Conn is one live client connection. Send must not block; it reports false
// when the client's buffer is full.
type Conn interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

// UserRoom is the room every authenticated connection of userID joins.
func UserRoom(userID string) string { return "user:" + userID }

type entry struct {
	conn     Conn
	userID   string
	rooms    map[string]struct{}
	lastSeen time.Time
}

// Removal describes a connection taken out of the registry.
type Removal struct {
	Conn   Conn
	UserID string
	// Offline is true when this was the user's last connection.
	Offline bool
}

// Binding is the result of authenticating a connection.
type Binding struct {
	// Online is true when the user had no other connection before.
	Online bool
	// Previous is the user the connection was bound to before, if it changed.
	Previous        string
	PreviousOffline bool
}

// Registry owns the connection, user and room indexes behind a single lock
// so presence reads never see one index updated without the others.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	users map[string]map[string]struct{}
	rooms map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		users: make(map[string]map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register adds an unauthenticated connection. Registering an ID twice
// replaces the connection but keeps its bindings.
func (r *Registry) Register(c Conn, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[c.ID()]; ok {
		e.conn = c
		e.lastSeen = now
		return
	}
	r.conns[c.ID()] = &entry{conn: c, rooms: make(map[string]struct{}), lastSeen: now}
}

func (r *Registry) Authenticate(connID, userID string, now time.Time) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return Binding{}, ErrUnknownConnection
	}
	e.lastSeen = now
	if e.userID == userID {
		return Binding{}, nil
	}

	var b Binding
	if e.userID != "" {
		b.Previous = e.userID
		r.leave(connID, e, UserRoom(e.userID))
		b.PreviousOffline = r.unbindUser(connID, e.userID)
	}

	e.userID = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	b.Online = len(set) == 0
	set[connID] = struct{}{}
	r.join(connID, e, UserRoom(userID))
	return b, nil
}

func (r *Registry) JoinRoom(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	r.join(connID, e, room)
	return nil
}

func (r *Registry) LeaveRoom(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	r.leave(connID, e, room)
	return nil
}

// Touch records activity on a connection.
func (r *Registry) Touch(connID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if ok {
		e.lastSeen = now
	}
	return ok
}

// Disconnect removes a connection from every index. The second result is
// false when the connection was already gone.
func (r *Registry) Disconnect(connID string) (Removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return Removal{}, false
	}
	return r.remove(connID, e), true
}

// CleanupInactive removes every connection idle since before now-threshold.
func (r *Registry) CleanupInactive(threshold time.Duration, now time.Time) []Removal {
	cutoff := now.Add(-threshold)

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Removal
	for id, e := range r.conns {
		if e.lastSeen.Before(cutoff) {
			out = append(out, r.remove(id, e))
		}
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ListConnections returns the IDs of userID's connections in sorted order.
func (r *Registry) ListConnections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.users[userID])
}

func (r *Registry) RoomMembers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rooms[room])
}

func (r *Registry) ConnectedUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Counts returns connections and online users from one consistent view.
func (r *Registry) Counts() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.users)
}

func (r *Registry) Conn(connID string) Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[connID]; ok {
		return e.conn
	}
	return nil
}

// UserOf returns the user a connection is bound to, or "".
func (r *Registry) UserOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[connID]; ok {
		return e.userID
	}
	return ""
}

func (r *Registry) userTargets(userIDs ...string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conn
	for _, uid := range userIDs {
		for id := range r.users[uid] {
			out = append(out, r.conns[id].conn)
		}
	}
	return out
}

func (r *Registry) roomTargets(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		out = append(out, r.conns[id].conn)
	}
	return out
}

func (r *Registry) allTargets() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.conn)
	}
	return out
}

// remove, join, leave and unbindUser expect r.mu held for writing.

func (r *Registry) remove(connID string, e *entry) Removal {
	for room := range e.rooms {
		r.leave(connID, e, room)
	}
	rm := Removal{Conn: e.conn, UserID: e.userID}
	if e.userID != "" {
		rm.Offline = r.unbindUser(connID, e.userID)
	}
	delete(r.conns, connID)
	return rm
}

func (r *Registry) join(connID string, e *entry, room string) {
	e.rooms[room] = struct{}{}
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[room] = set
	}
	set[connID] = struct{}{}
}

func (r *Registry) leave(connID string, e *entry, room string) {
	delete(e.rooms, room)
	if set, ok := r.rooms[room]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Registry) unbindUser(connID, userID string) bool {
	set, ok := r.users[userID]
	if !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
