package runtime

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/inboxd/inboxd/internal/agent"
	"github.com/inboxd/inboxd/internal/history"
	"github.com/inboxd/inboxd/internal/observability"
	"github.com/inboxd/inboxd/internal/task"
)

// Config carries the runtime knobs the service needs beyond its
// collaborators.
type Config struct {
	TaskTimeout time.Duration
	StoreMode   string
}

// Service ties the agent driver, the state machine registry, the
// history recorder and metrics together. One Service instance serves
// all sessions; each StartTask spawns an independent goroutine.
type Service struct {
	taskTimeout time.Duration
	storeMode   string
	registry    *task.Registry
	driver      *agent.Driver
	store       history.Store
	metrics     *observability.Metrics
}

func New(cfg Config, registry *task.Registry, driver *agent.Driver, store history.Store, metrics *observability.Metrics) *Service {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 20 * time.Minute
	}
	if cfg.StoreMode == "" {
		cfg.StoreMode = "in-memory"
	}
	return &Service{
		taskTimeout: cfg.TaskTimeout,
		storeMode:   cfg.StoreMode,
		registry:    registry,
		driver:      driver,
		store:       store,
		metrics:     metrics,
	}
}

func (s *Service) StoreMode() string { return s.storeMode }

// StartTask begins a fresh task execution for the session and returns
// its execution ID. Fails with task.ErrExecutionActive while a prior
// execution for the same (user, session) pair is still live.
func (s *Service) StartTask(userID, sessionID, query string) (string, error) {
	exec, err := s.registry.Start(userID, sessionID, query)
	if err != nil {
		return "", err
	}
	s.observeExecutions()

	go s.run(exec)
	return exec.ID, nil
}

func (s *Service) run(exec *task.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	started := time.Now()
	result := s.driver.Run(ctx, exec)
	s.observeExecutions()

	if s.metrics != nil {
		s.metrics.TaskIterations.Observe(float64(exec.Iteration()))
		s.metrics.TaskOutcomes.WithLabelValues(outcomeLabel(exec)).Inc()
	}

	if result == nil {
		log.Printf("task %s session %s failed after %s: %v", exec.ID, exec.SessionID, time.Since(started).Round(time.Millisecond), exec.Err())
		return
	}
	log.Printf("task %s session %s finished in %s (%d iterations)", exec.ID, exec.SessionID, time.Since(started).Round(time.Millisecond), result.TotalIterations)

	s.persist(exec, *result)
}

// persist hands the finalized result to the history recorder. Partial
// history of failed executions is intentionally not persisted.
func (s *Service) persist(exec *task.Execution, result task.Result) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.store.SaveRecord(ctx, history.Record{
		ID:        exec.ID,
		UserID:    exec.UserID,
		SessionID: exec.SessionID,
		Query:     exec.Query,
		Result:    result,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("persist task %s failed: %v", exec.ID, err)
	}
}

// ResolveApproval routes a client approval event to the session's open
// approval gate. Returns false when no gate is waiting, which the
// caller acknowledges without treating it as an error.
func (s *Service) ResolveApproval(userID, sessionID string, approved bool) bool {
	exec, ok := s.registry.Active(userID, sessionID)
	if !ok {
		return false
	}
	resolved := exec.ResolveApproval(approved)
	if resolved && s.metrics != nil {
		outcome := "approved"
		if !approved {
			outcome = "denied"
		}
		s.metrics.GateResolutions.WithLabelValues("approval", outcome).Inc()
	}
	return resolved
}

// ResolveAuth routes a client auth-completed event to the session's
// open auth gate.
func (s *Service) ResolveAuth(userID, sessionID string, success bool) bool {
	exec, ok := s.registry.Active(userID, sessionID)
	if !ok {
		return false
	}
	resolved := exec.ResolveAuth(success)
	if resolved && s.metrics != nil {
		outcome := "ready"
		if !success {
			outcome = "failed"
		}
		s.metrics.GateResolutions.WithLabelValues("auth", outcome).Inc()
	}
	return resolved
}

// CancelRoom is wired as the room registry's empty hook.
func (s *Service) CancelRoom(room string) {
	s.registry.CancelRoom(room)
	if s.metrics != nil {
		s.metrics.RoomEvents.WithLabelValues("emptied").Inc()
	}
}

// LatestRecord returns the persisted result of the session's most
// recent task execution for UI replay.
func (s *Service) LatestRecord(ctx context.Context, userID, sessionID string) (history.Record, error) {
	if s.store == nil {
		return history.Record{}, history.ErrNotFound
	}
	return s.store.LatestBySession(ctx, userID, sessionID)
}

func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) observeExecutions() {
	if s.metrics != nil {
		s.metrics.ActiveExecutions.Set(float64(s.registry.ActiveCount()))
	}
}

func outcomeLabel(exec *task.Execution) string {
	switch exec.State() {
	case task.StateCompleted:
		return "completed"
	case task.StateError:
		switch {
		case errors.Is(exec.Err(), task.ErrMaxIterations):
			return "max_iterations"
		case errors.Is(exec.Err(), task.ErrAuthTimeout), errors.Is(exec.Err(), task.ErrApprovalTimeout):
			return "gate_timeout"
		case errors.Is(exec.Err(), task.ErrRoomClosed):
			return "disconnected"
		default:
			return "failed"
		}
	default:
		return "unknown"
	}
}
