package workflow

import (
	"errors"

	"github.com/codecrew-dev/codecrew/internal/agent"
)

// Status enumerates the workflow phases. idle and completed are resting
// states that only external action (submit / reset) can leave; failed is
// reachable from any non-idle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPlanning  Status = "planning"
	StatusCoding    Status = "coding"
	StatusTesting   Status = "testing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Active reports whether a run is currently in flight.
func (s Status) Active() bool {
	switch s {
	case StatusPlanning, StatusCoding, StatusTesting:
		return true
	}
	return false
}

// Protocol and lifecycle errors surfaced by the router.
var (
	// ErrWorkflowBusy rejects submit while a run is active; only one
	// workflow may be active at a time.
	ErrWorkflowBusy = errors.New("workflow busy: another workflow is already running")
	// ErrUnauthorizedHandoff rejects transfers outside the authority graph,
	// including an agent targeting itself.
	ErrUnauthorizedHandoff = errors.New("workflow: unauthorized handoff")
	// ErrHandoffLimitExceeded terminates runs that keep cycling control.
	ErrHandoffLimitExceeded = errors.New("workflow: handoff limit exceeded")
	// ErrFinalizeWithoutReport rejects finalization that was not preceded by
	// an explicit passing test report.
	ErrFinalizeWithoutReport = errors.New("workflow: finalize requires a passing test report")
)

// Document is an opaque attachment submitted alongside a prompt. Parsing is
// not the router's concern; documents are passed through to the initial
// conversation context untouched.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// State is a point-in-time snapshot of the singleton workflow state.
type State struct {
	Status           Status     `json:"status"`
	CurrentTaskIndex int        `json:"currentTaskIndex"`
	ActiveAgent      agent.Role `json:"activeAgent,omitempty"`
	RunID            string     `json:"runId,omitempty"`
}

// SystemStatus is the aggregate health payload served by the status
// endpoint.
type SystemStatus struct {
	AgentsActive    int    `json:"agents_active"`
	MessagesCount   int    `json:"messages_count"`
	TasksCount      int    `json:"tasks_count"`
	FilesCount      int    `json:"files_count"`
	WorkflowStatus  Status `json:"workflow_status"`
	WorkflowRunning bool   `json:"workflow_running"`
	RunID           string `json:"run_id,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}
