package task

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inboxd/inboxd/internal/rooms"
)

// Registry enforces the one-active-execution-per-session invariant and
// routes inbound gate resolutions to the matching state machine by room
// key.
type Registry struct {
	broadcaster     Broadcaster
	authTimeout     time.Duration
	approvalTimeout time.Duration

	mu     sync.Mutex
	active map[string]*Execution
}

func NewRegistry(broadcaster Broadcaster, authTimeout, approvalTimeout time.Duration) *Registry {
	if authTimeout <= 0 {
		authTimeout = 2 * time.Minute
	}
	if approvalTimeout <= 0 {
		approvalTimeout = 60 * time.Second
	}
	return &Registry{
		broadcaster:     broadcaster,
		authTimeout:     authTimeout,
		approvalTimeout: approvalTimeout,
		active:          make(map[string]*Execution),
	}
}

// Start creates a fresh state machine instance for the session. Fails
// with ErrExecutionActive while a previous instance for the same
// (user, session) pair has not reached a terminal state.
func (r *Registry) Start(userID, sessionID, query string) (*Execution, error) {
	room := rooms.Name(userID, sessionID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[room]; busy {
		return nil, ErrExecutionActive
	}

	e := &Execution{
		ID:              uuid.NewString(),
		UserID:          userID,
		SessionID:       sessionID,
		Room:            room,
		Query:           query,
		broadcaster:     r.broadcaster,
		authTimeout:     r.authTimeout,
		approvalTimeout: r.approvalTimeout,
		state:           StateRunning,
		closed:          make(chan struct{}),
		done:            make(chan struct{}),
	}
	e.onRelease = func(done *Execution) { r.release(done) }
	r.active[room] = e
	return e, nil
}

// Active looks up the running execution for a (user, session) pair.
func (r *Registry) Active(userID, sessionID string) (*Execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[rooms.Name(userID, sessionID)]
	return e, ok
}

// ActiveCount reports how many executions are currently live.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// CancelRoom reacts to a room losing its last member: the execution's
// open gate (if any) resolves to failure and the machine stops
// broadcasting.
func (r *Registry) CancelRoom(room string) {
	r.mu.Lock()
	e := r.active[room]
	r.mu.Unlock()
	if e != nil {
		e.cancelRoomEmpty()
	}
}

func (r *Registry) release(e *Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[e.Room] == e {
		delete(r.active, e.Room)
	}
}
