package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inboxd/inboxd/internal/protocol"
)

// sinkBroadcaster records broadcasts and signals each one on a buffered
// channel so tests can wait for a gate to open.
type sinkBroadcaster struct {
	mu     sync.Mutex
	events []protocol.EventName
	ch     chan protocol.EventName
}

func newSink() *sinkBroadcaster {
	return &sinkBroadcaster{ch: make(chan protocol.EventName, 64)}
}

func (s *sinkBroadcaster) Broadcast(_ string, event protocol.EventName, _ any) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.ch <- event
}

func (s *sinkBroadcaster) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitEvent(t *testing.T, s *sinkBroadcaster, want protocol.EventName) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if ev == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func startExecution(t *testing.T, sink *sinkBroadcaster, authTimeout, approvalTimeout time.Duration) (*Registry, *Execution) {
	t.Helper()
	var b Broadcaster
	if sink != nil {
		b = sink
	}
	r := NewRegistry(b, authTimeout, approvalTimeout)
	e, err := r.Start("43", "4", "find unread mail")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return r, e
}

func TestIterationsStrictlyIncreasingAndCapped(t *testing.T) {
	_, e := startExecution(t, nil, time.Minute, time.Minute)

	for want := 1; want <= MaxIterations; want++ {
		got, err := e.BeginIteration()
		if err != nil {
			t.Fatalf("BeginIteration() #%d error = %v", want, err)
		}
		if got != want {
			t.Fatalf("BeginIteration() = %d, want %d", got, want)
		}
	}

	if _, err := e.BeginIteration(); !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("BeginIteration() #11 error = %v, want ErrMaxIterations", err)
	}
	if got := e.Iteration(); got != MaxIterations {
		t.Fatalf("Iteration() = %d after cap, want %d", got, MaxIterations)
	}
}

func TestStartEnforcesOneActivePerSession(t *testing.T) {
	r, e := startExecution(t, nil, time.Minute, time.Minute)

	if _, err := r.Start("43", "4", "again"); !errors.Is(err, ErrExecutionActive) {
		t.Fatalf("second Start() error = %v, want ErrExecutionActive", err)
	}
	// A different session is unaffected.
	if _, err := r.Start("43", "5", "other"); err != nil {
		t.Fatalf("Start() other session error = %v", err)
	}

	if err := e.Complete(Result{Success: true}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, err := r.Start("43", "4", "fresh"); err != nil {
		t.Fatalf("Start() after Complete error = %v", err)
	}
}

func TestGateExclusive(t *testing.T) {
	_, e := startExecution(t, nil, time.Minute, time.Minute)

	if _, err := e.openGate(gateAuth, StateAwaitingAuth, protocol.EventNeedsAuth, nil); err != nil {
		t.Fatalf("openGate(auth) error = %v", err)
	}
	if _, err := e.openGate(gateApproval, StateAwaitingApproval, protocol.EventRequestApproval, nil); !errors.Is(err, ErrGateAlreadyOpen) {
		t.Fatalf("second openGate error = %v, want ErrGateAlreadyOpen", err)
	}
}

func TestRequireAuthResolved(t *testing.T) {
	sink := newSink()
	_, e := startExecution(t, sink, time.Minute, time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- e.RequireAuth(context.Background(), "connect your account") }()

	waitEvent(t, sink, protocol.EventNeedsAuth)
	if got := e.State(); got != StateAwaitingAuth {
		t.Fatalf("State() = %q while waiting, want %q", got, StateAwaitingAuth)
	}
	if !e.ResolveAuth(true) {
		t.Fatalf("ResolveAuth() = false, want true")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("RequireAuth() error = %v", err)
	}
	if got := e.State(); got != StateRunning {
		t.Fatalf("State() = %q after resume, want %q", got, StateRunning)
	}
}

func TestRequireAuthFailureSignal(t *testing.T) {
	sink := newSink()
	_, e := startExecution(t, sink, time.Minute, time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- e.RequireAuth(context.Background(), "connect") }()

	waitEvent(t, sink, protocol.EventNeedsAuth)
	e.ResolveAuth(false)

	if err := <-errCh; !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("RequireAuth() error = %v, want ErrAuthFailed", err)
	}
}

func TestRequireAuthTimeout(t *testing.T) {
	sink := newSink()
	_, e := startExecution(t, sink, 30*time.Millisecond, time.Minute)

	err := e.RequireAuth(context.Background(), "connect")
	if !errors.Is(err, ErrAuthTimeout) {
		t.Fatalf("RequireAuth() error = %v, want ErrAuthTimeout", err)
	}
	// The gate is gone; a late resolution is acknowledged as a no-op.
	if e.ResolveAuth(true) {
		t.Fatalf("ResolveAuth() after timeout = true, want false")
	}
}

func TestRequireApprovalApprovedAndDenied(t *testing.T) {
	for _, approved := range []bool{true, false} {
		sink := newSink()
		_, e := startExecution(t, sink, time.Minute, time.Minute)

		type outcome struct {
			approved bool
			err      error
		}
		outCh := make(chan outcome, 1)
		go func() {
			ok, err := e.RequireApproval(context.Background(), "send_email", map[string]any{"to": "a@b.com"}, "sending")
			outCh <- outcome{ok, err}
		}()

		waitEvent(t, sink, protocol.EventRequestApproval)
		if got := e.State(); got != StateAwaitingApproval {
			t.Fatalf("State() = %q while waiting, want %q", got, StateAwaitingApproval)
		}
		if !e.ResolveApproval(approved) {
			t.Fatalf("ResolveApproval(%v) = false, want true", approved)
		}

		out := <-outCh
		if out.err != nil {
			t.Fatalf("RequireApproval() error = %v", out.err)
		}
		if out.approved != approved {
			t.Fatalf("RequireApproval() = %v, want %v", out.approved, approved)
		}
		if got := e.State(); got != StateRunning {
			t.Fatalf("State() = %q after resolution, want %q", got, StateRunning)
		}
	}
}

func TestRequireApprovalTimeout(t *testing.T) {
	_, e := startExecution(t, nil, time.Minute, 30*time.Millisecond)

	approved, err := e.RequireApproval(context.Background(), "send_email", nil, "sending")
	if !errors.Is(err, ErrApprovalTimeout) {
		t.Fatalf("RequireApproval() error = %v, want ErrApprovalTimeout", err)
	}
	if approved {
		t.Fatalf("RequireApproval() approved = true on timeout, want false")
	}
	if e.ResolveApproval(true) {
		t.Fatalf("ResolveApproval() after timeout = true, want false")
	}
}

func TestResolveWrongGateKind(t *testing.T) {
	sink := newSink()
	_, e := startExecution(t, sink, time.Minute, time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- e.RequireAuth(context.Background(), "connect") }()
	waitEvent(t, sink, protocol.EventNeedsAuth)

	if e.ResolveApproval(true) {
		t.Fatalf("ResolveApproval() = true against an auth gate, want false")
	}
	e.ResolveAuth(true)
	if err := <-errCh; err != nil {
		t.Fatalf("RequireAuth() error = %v", err)
	}
}

func TestRoomEmptyCancelsWaitAndSuppressesBroadcasts(t *testing.T) {
	sink := newSink()
	r, e := startExecution(t, sink, time.Minute, time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- e.RequireAuth(context.Background(), "connect") }()
	waitEvent(t, sink, protocol.EventNeedsAuth)

	r.CancelRoom(e.Room)
	if err := <-errCh; !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("RequireAuth() error = %v, want ErrRoomClosed", err)
	}

	if _, err := e.BeginIteration(); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("BeginIteration() error = %v, want ErrRoomClosed", err)
	}

	before := sink.count()
	e.EmitProgress("still going")
	e.Fail(ErrRoomClosed)
	if got := sink.count(); got != before {
		t.Fatalf("broadcasts after room close = %d, want 0", got-before)
	}
}

func TestCompleteIsTerminalAndReleases(t *testing.T) {
	sink := newSink()
	r, e := startExecution(t, sink, time.Minute, time.Minute)

	result := Result{Success: true, Summary: "done", TotalIterations: 2}
	if err := e.Complete(result); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	waitEvent(t, sink, protocol.EventCompleted)

	select {
	case <-e.Done():
	default:
		t.Fatalf("Done() not closed after Complete")
	}
	if got := e.Result(); got == nil || got.Summary != "done" {
		t.Fatalf("Result() = %+v, want summary done", got)
	}
	if _, ok := r.Active("43", "4"); ok {
		t.Fatalf("Active() = true after Complete, want released")
	}

	if err := e.Complete(Result{}); !errors.Is(err, ErrTerminal) {
		t.Fatalf("second Complete() error = %v, want ErrTerminal", err)
	}
	before := sink.count()
	e.Fail(errors.New("late"))
	if sink.count() != before {
		t.Fatalf("Fail() after Complete broadcast an event")
	}
	if e.Err() != nil {
		t.Fatalf("Err() = %v after Complete, want nil", e.Err())
	}
}

func TestFailBroadcastsOnce(t *testing.T) {
	sink := newSink()
	r, e := startExecution(t, sink, time.Minute, time.Minute)

	cause := errors.New("planner exploded")
	e.Fail(cause)
	waitEvent(t, sink, protocol.EventTaskError)

	if got := e.State(); got != StateError {
		t.Fatalf("State() = %q, want %q", got, StateError)
	}
	if !errors.Is(e.Err(), cause) {
		t.Fatalf("Err() = %v, want %v", e.Err(), cause)
	}
	if _, ok := r.Active("43", "4"); ok {
		t.Fatalf("Active() = true after Fail, want released")
	}

	before := sink.count()
	e.Fail(errors.New("again"))
	if sink.count() != before {
		t.Fatalf("second Fail() broadcast an event")
	}
}

func TestRequireAuthContextCanceled(t *testing.T) {
	sink := newSink()
	_, e := startExecution(t, sink, time.Minute, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.RequireAuth(ctx, "connect") }()
	waitEvent(t, sink, protocol.EventNeedsAuth)

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("RequireAuth() error = %v, want context.Canceled", err)
	}
}
