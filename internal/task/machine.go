package task

import (
	"context"
	"sync"
	"time"

	"github.com/inboxd/inboxd/internal/protocol"
)

// Broadcaster delivers an event to every member of a room. Implemented
// by rooms.Registry.
type Broadcaster interface {
	Broadcast(room string, event protocol.EventName, payload any)
}

// Execution is the per-session task state machine. It is owned by the
// single goroutine driving the agent loop; the only external influence
// is gate resolution and room-empty cancellation, both safe to invoke
// concurrently with the waiting execution.
type Execution struct {
	ID        string
	UserID    string
	SessionID string
	Room      string
	Query     string

	broadcaster     Broadcaster
	authTimeout     time.Duration
	approvalTimeout time.Duration
	onRelease       func(*Execution)

	mu         sync.Mutex
	state      State
	iteration  int
	gate       *gate
	roomClosed bool
	closed     chan struct{}
	done       chan struct{}
	result     *Result
	failure    error
}

// State reports the current lifecycle position.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Iteration reports the current iteration number, zero before the
// first BeginIteration.
func (e *Execution) Iteration() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.iteration
}

// Done is closed when the execution reaches a terminal state.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Result returns the terminal result, nil unless state is COMPLETED.
func (e *Execution) Result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Err returns the terminal failure, nil unless state is ERROR.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// BeginIteration advances the loop counter. The counter starts at 1,
// is strictly increasing, and never exceeds MaxIterations; attempting
// to exceed it is a terminal failure for the caller to surface via
// Fail. Room-empty cancellation is also observed here so the driver
// stops cooperatively between iterations.
func (e *Execution) BeginIteration() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminalLocked() {
		return 0, ErrTerminal
	}
	if e.roomClosed {
		return 0, ErrRoomClosed
	}
	if e.iteration+1 > MaxIterations {
		return 0, ErrMaxIterations
	}
	e.iteration++
	return e.iteration, nil
}

// EmitProgress broadcasts the current iteration number and reasoning.
// It does not change state and may be called multiple times per
// iteration.
func (e *Execution) EmitProgress(reasoning string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminalLocked() {
		return
	}
	e.broadcastLocked(protocol.EventProgress, Progress{
		Iteration: e.iteration,
		Reasoning: reasoning,
	})
}

// RequireAuth suspends the execution until the client reports OAuth
// completion, the configured wait elapses, or the room empties.
func (e *Execution) RequireAuth(ctx context.Context, message string) error {
	g, err := e.openGate(gateAuth, StateAwaitingAuth, protocol.EventNeedsAuth, AuthRequest{Message: message})
	if err != nil {
		return err
	}

	timer := time.NewTimer(e.authTimeout)
	defer timer.Stop()

	select {
	case ok := <-g.result:
		if !ok {
			return ErrAuthFailed
		}
		e.resume()
		return nil
	case <-timer.C:
		e.closeGate(g)
		return ErrAuthTimeout
	case <-e.closed:
		e.closeGate(g)
		return ErrRoomClosed
	case <-ctx.Done():
		e.closeGate(g)
		return ctx.Err()
	}
}

// RequireApproval suspends the execution until the client approves or
// rejects the write action. The returned flag must gate the downstream
// write: false means the operation is never executed.
func (e *Execution) RequireApproval(ctx context.Context, operation string, parameters map[string]any, reasoning string) (bool, error) {
	g, err := e.openGate(gateApproval, StateAwaitingApproval, protocol.EventRequestApproval, ApprovalRequest{
		Operation:  operation,
		Parameters: parameters,
		Reasoning:  reasoning,
	})
	if err != nil {
		return false, err
	}

	timer := time.NewTimer(e.approvalTimeout)
	defer timer.Stop()

	select {
	case approved := <-g.result:
		e.resume()
		return approved, nil
	case <-timer.C:
		e.closeGate(g)
		return false, ErrApprovalTimeout
	case <-e.closed:
		e.closeGate(g)
		return false, ErrRoomClosed
	case <-ctx.Done():
		e.closeGate(g)
		return false, ctx.Err()
	}
}

// ResolveAuth wakes an execution waiting in RequireAuth. Returns false
// when no auth gate is open; duplicate and late resolutions are
// acknowledged but have no effect.
func (e *Execution) ResolveAuth(success bool) bool {
	return e.resolveGate(gateAuth, success)
}

// ResolveApproval wakes an execution waiting in RequireApproval.
func (e *Execution) ResolveApproval(approved bool) bool {
	return e.resolveGate(gateApproval, approved)
}

// Complete transitions to COMPLETED, broadcasts the terminal result,
// and releases the state machine instance. The result is immutable
// from here on.
func (e *Execution) Complete(result Result) error {
	e.mu.Lock()
	if e.terminalLocked() {
		e.mu.Unlock()
		return ErrTerminal
	}
	e.state = StateCompleted
	e.result = &result
	e.broadcastLocked(protocol.EventCompleted, Completion{Result: result})
	close(e.done)
	e.mu.Unlock()

	e.release()
	return nil
}

// Fail transitions to ERROR, broadcasts a single email_tool_error
// event, and releases the instance. Calling Fail on an already
// terminal execution is a no-op.
func (e *Execution) Fail(err error) {
	e.mu.Lock()
	if e.terminalLocked() {
		e.mu.Unlock()
		return
	}
	e.state = StateError
	e.failure = err
	e.broadcastLocked(protocol.EventTaskError, Failure{Error: err.Error()})
	close(e.done)
	e.mu.Unlock()

	e.release()
}

// cancelRoomEmpty is invoked when the last room member disconnects.
// Any open gate resolves to failure and no further broadcasts are
// attempted; the driver observes the cancellation at its next
// suspension point or BeginIteration.
func (e *Execution) cancelRoomEmpty() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminalLocked() || e.roomClosed {
		return
	}
	e.roomClosed = true
	e.gate = nil
	close(e.closed)
}

func (e *Execution) openGate(kind gateKind, state State, event protocol.EventName, payload any) (*gate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminalLocked() {
		return nil, ErrTerminal
	}
	if e.roomClosed {
		return nil, ErrRoomClosed
	}
	if e.gate != nil {
		return nil, ErrGateAlreadyOpen
	}
	g := newGate(kind)
	e.gate = g
	e.state = state
	e.broadcastLocked(event, payload)
	return g, nil
}

func (e *Execution) resolveGate(kind gateKind, value bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.gate
	if g == nil || g.kind != kind {
		return false
	}
	e.gate = nil
	g.result <- value
	return true
}

// closeGate discards a gate whose wait ended without resolution. A
// concurrent resolution that already cleared the gate loses the race
// harmlessly: its value sits unread in the buffered channel.
func (e *Execution) closeGate(g *gate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate == g {
		e.gate = nil
	}
}

func (e *Execution) resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.terminalLocked() {
		e.state = StateRunning
	}
}

func (e *Execution) terminalLocked() bool {
	return e.state == StateCompleted || e.state == StateError
}

// broadcastLocked suppresses delivery once the room has emptied.
func (e *Execution) broadcastLocked(event protocol.EventName, payload any) {
	if e.roomClosed || e.broadcaster == nil {
		return
	}
	e.broadcaster.Broadcast(e.Room, event, payload)
}

func (e *Execution) release() {
	if e.onRelease != nil {
		e.onRelease(e)
	}
}
