package workflow

import (
	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/artifact"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/task"
)

// Read-side API. Every method takes the engine read lock so a poll observes
// a message only together with the state updates that accompanied it.

// Agents returns the registry entries.
func (e *Engine) Agents() []agent.Agent {
	return e.registry.List()
}

// Messages returns log entries with id > since, up to limit.
func (e *Engine) Messages(since int64, limit int) []logbook.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.log.ReadSince(since, limit)
}

// ToolCalls returns the tool invocations issued by agentID.
func (e *Engine) ToolCalls(agentID agent.Role) []logbook.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.log.ToolCallsFor(agentID)
}

// TasksSnapshot returns the task views, current index, and workflow status
// as one consistent unit.
func (e *Engine) TasksSnapshot() ([]task.View, int, Status) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	views, index := e.tasks.Snapshot()
	return views, index, e.status
}

// Files returns tracked artifacts, most recently modified first.
func (e *Engine) Files() []artifact.GeneratedFile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.files.List()
}

// State returns the workflow state snapshot.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		Status:           e.status,
		CurrentTaskIndex: e.tasks.Index(),
		ActiveAgent:      e.active,
		RunID:            e.runID,
	}
}

// SystemStatus returns the aggregate health payload.
func (e *Engine) SystemStatus() SystemStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status := SystemStatus{
		AgentsActive:    e.registry.Len(),
		MessagesCount:   e.log.Len(),
		TasksCount:      e.tasks.Len(),
		FilesCount:      e.files.Len(),
		WorkflowStatus:  e.status,
		WorkflowRunning: e.status.Active(),
		RunID:           e.runID,
		LastError:       e.failReason,
	}
	return status
}
