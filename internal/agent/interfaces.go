package agent

import (
	"context"
	"errors"

	"github.com/inboxd/inboxd/internal/task"
)

// ErrToolExecution wraps opaque failures from the mail domain logic.
var ErrToolExecution = errors.New("tool execution failed")

// Mail functions the planner may call. Only FuncSendEmail is a write
// action and requires human approval before execution.
const (
	FuncSearchEmails = "search_emails"
	FuncReadEmail    = "read_email"
	FuncSendEmail    = "send_email"
	FuncCreateDraft  = "create_draft"
	FuncMarkRead     = "mark_as_read"
	FuncMarkUnread   = "mark_as_unread"
	FuncListLabels   = "list_labels"
)

// RequiresApproval reports whether a function may not run without an
// explicit approved=true from the client.
func RequiresApproval(function string) bool {
	return function == FuncSendEmail
}

// ContextDecision is the outcome of iteration 1: whether prior
// conversation context is needed before acting, plus the reasoning
// streamed to the client.
type ContextDecision struct {
	NeedsHistory bool
	Reasoning    string
}

// Action is one planned step: either a function call or, when Function
// is empty, a terminal reasoning-only step that ends the loop.
type Action struct {
	Reasoning  string
	Function   string
	Parameters map[string]any
}

// Planner decides what the agent does next. The production
// implementation sits behind an LLM; this repo ships a scripted one.
type Planner interface {
	AnalyzeContext(ctx context.Context, query string) (ContextDecision, error)
	NextAction(ctx context.Context, query string, history []task.IterationRecord, iteration int) (Action, error)
}

// Mailbox executes mail functions. Failures are reported as an error
// and recorded in the iteration history; the loop continues so the
// planner can react.
type Mailbox interface {
	Execute(ctx context.Context, function string, parameters map[string]any) (map[string]any, error)
}

// Credentials reports whether the user holds a valid mail credential.
// The OAuth exchange itself is out of scope; the auth gate only waits
// for its completion signal.
type Credentials interface {
	Connected(ctx context.Context, userID string) (bool, error)
}
