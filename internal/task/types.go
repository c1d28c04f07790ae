package task

// State is the lifecycle position of one task execution.
type State string

const (
	StateIdle             State = "idle"
	StateRunning          State = "running"
	StateAwaitingAuth     State = "awaiting_auth"
	StateAwaitingApproval State = "awaiting_approval"
	StateCompleted        State = "completed"
	StateError            State = "error"
)

// MaxIterations bounds the agent loop. The 11th attempted iteration is
// a terminal failure, not a retry.
const MaxIterations = 10

// IterationRecord captures one step of the reasoning/action loop.
// Records are immutable once emitted and appended in strictly
// increasing iteration order. Iteration 1 is context analysis and
// carries no function.
type IterationRecord struct {
	Iteration  int            `json:"iteration"`
	Reasoning  string         `json:"reasoning"`
	Function   string         `json:"function,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     map[string]any `json:"result"`
}

// Result is the terminal output of a task execution, produced exactly
// once.
type Result struct {
	Success         bool              `json:"success"`
	Summary         string            `json:"summary"`
	TotalIterations int               `json:"total_iterations"`
	Iterations      []IterationRecord `json:"iterations"`
	FinalReasoning  string            `json:"final_reasoning"`
}

// AuthRequest is broadcast when the execution needs a mail credential.
type AuthRequest struct {
	Message string `json:"message"`
}

// ApprovalRequest is broadcast when the execution wants to perform a
// write action.
type ApprovalRequest struct {
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning"`
}

// Progress is broadcast on every EmitProgress call.
type Progress struct {
	Iteration int    `json:"iteration"`
	Reasoning string `json:"reasoning"`
}

// Completion wraps the terminal result for the completed event.
type Completion struct {
	Result Result `json:"result"`
}

// Failure is the payload of the email_tool_error event.
type Failure struct {
	Error string `json:"error"`
}
