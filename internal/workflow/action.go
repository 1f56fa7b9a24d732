package workflow

import (
	"context"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/task"
)

// ActionKind discriminates the structured actions an agent step can yield.
type ActionKind string

const (
	ActionPlan     ActionKind = "plan"
	ActionTransfer ActionKind = "transfer"
	ActionToolCall ActionKind = "tool_call"
	ActionFinalize ActionKind = "finalize"
	ActionError    ActionKind = "error"
)

// Action is the tagged result of one agent step. Only the fields relevant to
// Kind are populated; the constructors below keep call sites honest.
type Action struct {
	Kind ActionKind

	// Transfer fields.
	Target  agent.Role
	MsgType logbook.Type
	Outcome logbook.Status

	// Tool call fields.
	Tool string

	// Plan fields.
	Tasks []task.Task

	// Finalize fields.
	Path     string
	Content  string
	FileType string

	// Error fields.
	Reason string

	// Payload rides along on the recorded message for every kind.
	Payload any
}

// Plan yields the ordered task plan produced by the orchestrator's planning
// step.
func Plan(tasks []task.Task, payload any) Action {
	return Action{Kind: ActionPlan, Tasks: tasks, Payload: payload}
}

// Transfer hands control to target.
func Transfer(target agent.Role, payload any) Action {
	return Action{Kind: ActionTransfer, Target: target, Payload: payload}
}

// Report hands control to target carrying a test report; passed decides the
// message status.
func Report(target agent.Role, passed bool, payload any) Action {
	outcome := logbook.StatusOK
	if !passed {
		outcome = logbook.StatusFail
	}
	return Action{
		Kind:    ActionTransfer,
		Target:  target,
		MsgType: logbook.TypeTestReport,
		Outcome: outcome,
		Payload: payload,
	}
}

// Patch hands control to target carrying a reworked implementation.
func Patch(target agent.Role, payload any) Action {
	return Action{Kind: ActionTransfer, Target: target, MsgType: logbook.TypePatch, Payload: payload}
}

// ToolCall invokes one of the acting agent's declared tools. Control stays
// with the actor.
func ToolCall(tool string, payload any) Action {
	return Action{Kind: ActionToolCall, Tool: tool, Payload: payload}
}

// Finalize commits a completed task's output into a tracked file artifact.
func Finalize(path, content, fileType string, payload any) Action {
	return Action{Kind: ActionFinalize, Path: path, Content: content, FileType: fileType, Payload: payload}
}

// Fail reports an unrecoverable error from the acting agent.
func Fail(reason string) Action {
	return Action{Kind: ActionError, Reason: reason}
}

// Stepper is the external agent reasoning capability. One call performs one
// step for the active agent against the conversation so far and returns the
// structured action the agent decided on. Implementations may be slow and
// non-deterministic; the router treats the call as opaque and retries it a
// bounded number of times on error.
type Stepper interface {
	Step(ctx context.Context, active agent.Role, conversation []logbook.Message) (Action, error)
}

// StepperFunc adapts a function into a Stepper.
type StepperFunc func(ctx context.Context, active agent.Role, conversation []logbook.Message) (Action, error)

// Step executes f.
func (f StepperFunc) Step(ctx context.Context, active agent.Role, conversation []logbook.Message) (Action, error) {
	return f(ctx, active, conversation)
}
