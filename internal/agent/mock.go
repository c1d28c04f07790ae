package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/inboxd/inboxd/internal/task"
)

// ScriptedPlanner replays a fixed sequence of actions. It backs tests
// and the local fallback when no LLM planner is configured.
type ScriptedPlanner struct {
	Decision ContextDecision
	Actions  []Action

	mu   sync.Mutex
	next int
}

func NewScriptedPlanner(decision ContextDecision, actions ...Action) *ScriptedPlanner {
	return &ScriptedPlanner{Decision: decision, Actions: actions}
}

// NewEchoPlanner is the zero-configuration fallback: it analyzes the
// query and immediately finishes with a canned summary.
func NewEchoPlanner() *ScriptedPlanner {
	return NewScriptedPlanner(
		ContextDecision{Reasoning: "Analyzing the request."},
		Action{Reasoning: "No mail actions are configured; nothing to do."},
	)
}

func (p *ScriptedPlanner) AnalyzeContext(_ context.Context, _ string) (ContextDecision, error) {
	return p.Decision, nil
}

func (p *ScriptedPlanner) NextAction(_ context.Context, _ string, _ []task.IterationRecord, _ int) (Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.Actions) {
		return Action{Reasoning: "Done."}, nil
	}
	a := p.Actions[p.next]
	p.next++
	return a, nil
}

// MemoryMailbox is a deterministic in-memory mailbox for tests and
// local development.
type MemoryMailbox struct {
	mu     sync.Mutex
	sent   []map[string]any
	drafts []map[string]any
	labels []string
}

func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{labels: []string{"INBOX", "SENT", "DRAFT"}}
}

func (m *MemoryMailbox) Execute(_ context.Context, function string, parameters map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch function {
	case FuncSearchEmails:
		return map[string]any{"messages": []any{}, "count": 0}, nil
	case FuncReadEmail:
		return map[string]any{"subject": "", "body": ""}, nil
	case FuncSendEmail:
		m.sent = append(m.sent, parameters)
		return map[string]any{"message_id": fmt.Sprintf("sent-%d", len(m.sent))}, nil
	case FuncCreateDraft:
		m.drafts = append(m.drafts, parameters)
		return map[string]any{"draft_id": fmt.Sprintf("draft-%d", len(m.drafts))}, nil
	case FuncMarkRead, FuncMarkUnread:
		return map[string]any{"updated": true}, nil
	case FuncListLabels:
		labels := make([]any, 0, len(m.labels))
		for _, l := range m.labels {
			labels = append(labels, l)
		}
		return map[string]any{"labels": labels}, nil
	default:
		return nil, fmt.Errorf("%w: unknown function %q", ErrToolExecution, function)
	}
}

// SentCount reports how many send_email calls actually executed.
func (m *MemoryMailbox) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// StaticCredentials marks a fixed set of users as connected.
type StaticCredentials struct {
	mu        sync.RWMutex
	connected map[string]bool
}

func NewStaticCredentials(userIDs ...string) *StaticCredentials {
	c := &StaticCredentials{connected: make(map[string]bool)}
	for _, id := range userIDs {
		c.Set(id, true)
	}
	return c
}

func (c *StaticCredentials) Set(userID string, connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected[strings.TrimSpace(userID)] = connected
}

func (c *StaticCredentials) Connected(_ context.Context, userID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected[strings.TrimSpace(userID)], nil
}
