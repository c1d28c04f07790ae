package agent

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/inboxd/inboxd/internal/task"
)

const authPromptMessage = "Please connect your email account to continue"

// Driver runs the agent loop for one task execution, advancing the
// state machine iteration by iteration and suspending at the auth and
// approval gates. The email domain stays behind the Planner, Mailbox
// and Credentials interfaces.
type Driver struct {
	planner Planner
	mailbox Mailbox
	creds   Credentials
}

func NewDriver(planner Planner, mailbox Mailbox, creds Credentials) *Driver {
	return &Driver{planner: planner, mailbox: mailbox, creds: creds}
}

// Run drives exec to a terminal state and returns its result. A nil
// result means the execution failed; the failure has already been
// surfaced through exec.Fail.
func (d *Driver) Run(ctx context.Context, exec *task.Execution) *task.Result {
	connected, err := d.creds.Connected(ctx, exec.UserID)
	if err != nil {
		exec.Fail(fmt.Errorf("%w: %v", ErrToolExecution, err))
		return nil
	}
	if !connected {
		if err := exec.RequireAuth(ctx, authPromptMessage); err != nil {
			exec.Fail(err)
			return nil
		}
	}

	history := make([]task.IterationRecord, 0, task.MaxIterations)

	// Iteration 1: context analysis, never a function call.
	if _, err := exec.BeginIteration(); err != nil {
		exec.Fail(err)
		return nil
	}
	decision, err := d.planner.AnalyzeContext(ctx, exec.Query)
	if err != nil {
		exec.Fail(fmt.Errorf("%w: %v", ErrToolExecution, err))
		return nil
	}
	exec.EmitProgress(decision.Reasoning)
	history = append(history, task.IterationRecord{
		Iteration: 1,
		Reasoning: decision.Reasoning,
		Result:    map[string]any{"success": true, "needs_history": decision.NeedsHistory},
	})

	for {
		iteration, err := exec.BeginIteration()
		if err != nil {
			exec.Fail(err)
			return nil
		}

		action, err := d.planner.NextAction(ctx, exec.Query, history, iteration)
		if err != nil {
			exec.Fail(fmt.Errorf("%w: %v", ErrToolExecution, err))
			return nil
		}
		exec.EmitProgress(action.Reasoning)

		if action.Function == "" {
			history = append(history, task.IterationRecord{
				Iteration: iteration,
				Reasoning: action.Reasoning,
				Result:    map[string]any{"success": true},
			})
			result := task.Result{
				Success:         true,
				Summary:         action.Reasoning,
				TotalIterations: iteration,
				Iterations:      history,
				FinalReasoning:  action.Reasoning,
			}
			if err := exec.Complete(result); err != nil {
				return nil
			}
			return &result
		}

		if RequiresApproval(action.Function) {
			approved, err := exec.RequireApproval(ctx, action.Function, action.Parameters, action.Reasoning)
			if err != nil {
				exec.Fail(err)
				return nil
			}
			if !approved {
				// The write is never executed on rejection.
				result := task.Result{
					Success:         false,
					Summary:         "User rejected email sending",
					TotalIterations: iteration,
					Iterations:      history,
					FinalReasoning:  action.Reasoning,
				}
				if err := exec.Complete(result); err != nil {
					return nil
				}
				return &result
			}
		}

		record := task.IterationRecord{
			Iteration:  iteration,
			Reasoning:  action.Reasoning,
			Function:   action.Function,
			Parameters: action.Parameters,
		}
		output, err := d.mailbox.Execute(ctx, action.Function, action.Parameters)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				exec.Fail(err)
				return nil
			}
			// Tool failures feed back into the planner's next step.
			log.Printf("mail function %s failed for session %s: %v", action.Function, exec.SessionID, err)
			record.Result = map[string]any{"success": false, "error": err.Error()}
		} else {
			record.Result = map[string]any{"success": true, "result": output}
		}
		history = append(history, record)
	}
}
