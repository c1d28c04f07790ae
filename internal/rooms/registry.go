package rooms

import (
	"fmt"
	"sync"

	"github.com/inboxd/inboxd/internal/protocol"
)

// Conn is one websocket connection's outbound side. Send enqueues the
// event for the connection's single writer goroutine; implementations
// must not block.
type Conn interface {
	Send(event protocol.EventName, payload any)
}

// Name derives the broadcast group for a (user, session) pair. It is a
// pure function shared with the client, so inbound events can be routed
// without consulting registry state.
func Name(userID, sessionID string) string {
	return fmt.Sprintf("email_tool_%s_%s", userID, sessionID)
}

// Registry tracks which connections belong to which rooms. It is the
// only structure shared across concurrent task executions; a single
// mutex guards all membership state.
type Registry struct {
	mu      sync.Mutex
	members map[string]map[Conn]struct{}
	byConn  map[Conn]map[string]struct{}
	onEmpty func(room string)
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]map[Conn]struct{}),
		byConn:  make(map[Conn]map[string]struct{}),
	}
}

// SetEmptyHook registers a callback fired after a room's last member
// leaves. Used to cancel gates that would otherwise wait on nobody.
func (r *Registry) SetEmptyHook(hook func(room string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEmpty = hook
}

// Join binds conn to the (user, session) room, creating the room if
// absent. Re-joining from the same connection is a no-op.
func (r *Registry) Join(userID, sessionID string, conn Conn) string {
	room := Name(userID, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[room]; !ok {
		r.members[room] = make(map[Conn]struct{})
	}
	r.members[room][conn] = struct{}{}
	if _, ok := r.byConn[conn]; !ok {
		r.byConn[conn] = make(map[string]struct{})
	}
	r.byConn[conn][room] = struct{}{}
	return room
}

// Leave removes conn from every room it belongs to. Rooms whose
// membership drops to zero are garbage-collected and reported through
// the empty hook.
func (r *Registry) Leave(conn Conn) {
	r.mu.Lock()
	var emptied []string
	for room := range r.byConn[conn] {
		delete(r.members[room], conn)
		if len(r.members[room]) == 0 {
			delete(r.members, room)
			emptied = append(emptied, room)
		}
	}
	delete(r.byConn, conn)
	hook := r.onEmpty
	r.mu.Unlock()

	if hook != nil {
		for _, room := range emptied {
			hook(room)
		}
	}
}

// Broadcast delivers the event to every member of the room. Enqueueing
// happens under the registry lock, so broadcasts issued sequentially by
// one state machine reach each member in emission order.
func (r *Registry) Broadcast(room string, event protocol.EventName, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.members[room] {
		conn.Send(event, payload)
	}
}

// MemberCount reports the current membership of a room, zero when the
// room does not exist.
func (r *Registry) MemberCount(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members[room])
}

// RoomCount reports the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
