package task

import "errors"

var (
	// ErrMaxIterations means the loop attempted an 11th iteration.
	ErrMaxIterations = errors.New("max iterations reached")

	// ErrGateAlreadyOpen is protocol misuse: opening a second gate
	// while one is outstanding for the session.
	ErrGateAlreadyOpen = errors.New("a gate is already open for this session")

	// ErrAuthTimeout / ErrApprovalTimeout report an unresolved gate
	// whose bounded wait elapsed.
	ErrAuthTimeout     = errors.New("authentication timed out")
	ErrApprovalTimeout = errors.New("approval request timed out")

	// ErrAuthFailed reports an explicit unsuccessful auth completion.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRoomClosed means every room member disconnected while the
	// execution was waiting on a gate.
	ErrRoomClosed = errors.New("all clients disconnected")

	// ErrExecutionActive guards the one-execution-per-session rule.
	ErrExecutionActive = errors.New("a task is already running for this session")

	// ErrTerminal is returned by operations invoked after the state
	// machine reached COMPLETED or ERROR.
	ErrTerminal = errors.New("task execution already finished")
)
