// Package scripted provides a deterministic Stepper that walks the standard
// plan -> implement -> test -> finalize loop without any external reasoning
// service. It backs demo serving and the engine tests.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/task"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

// Stepper drives the scripted workflow. The zero value plans a single task;
// FailFirstRun makes the first test cycle report a failure so the
// fix-and-retest path gets exercised.
type Stepper struct {
	// FileName is the artifact path for the first task. Later tasks get a
	// numbered suffix.
	FileName string
	// ExtraTasks appends additional planned tasks after the primary one.
	ExtraTasks []string
	// FailFirstRun makes the very first test run report failure.
	FailFirstRun bool

	mu         sync.Mutex
	failedOnce bool
	finalized  int
}

// Step implements workflow.Stepper.
func (s *Stepper) Step(_ context.Context, active agent.Role, conversation []logbook.Message) (workflow.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(conversation) == 0 {
		return workflow.Fail("empty conversation"), nil
	}
	last := conversation[len(conversation)-1]
	switch active {
	case agent.RoleOrchestrator:
		return s.orchestrate(last, conversation), nil
	case agent.RoleCoder:
		return s.code(last), nil
	case agent.RoleTester:
		return s.test(last), nil
	default:
		return workflow.Transfer(agent.RoleOrchestrator, "nothing to do"), nil
	}
}

func (s *Stepper) orchestrate(last logbook.Message, conversation []logbook.Message) workflow.Action {
	prompt := promptFrom(conversation)
	switch {
	case last.From == agent.SenderUser && last.Type == logbook.TypeRequest:
		tasks := []task.Task{{
			Description: "Implement: " + prompt,
			File:        s.path(0),
		}}
		for i, extra := range s.ExtraTasks {
			tasks = append(tasks, task.Task{Description: extra, File: s.path(i + 1)})
		}
		return workflow.Plan(tasks, map[string]any{
			"message": fmt.Sprintf("Breaking %q into %d task(s)", prompt, len(tasks)),
		})
	case last.Type == logbook.TypeTestReport && last.Status == logbook.StatusOK:
		path := s.path(s.finalized)
		s.finalized++
		return workflow.Finalize(path, functionBody(prompt), "python", map[string]any{
			"message": "tests passed, finalizing " + path,
			"path":    path,
		})
	case last.Type == logbook.TypeTestReport:
		return workflow.Transfer(agent.RoleCoder, map[string]any{
			"instruction": "fix the function, tests failed",
		})
	case last.From == string(agent.RoleCoder):
		return workflow.Transfer(agent.RoleTester, map[string]any{
			"instruction": "write and run unit tests",
		})
	case last.From == string(agent.RoleOrchestrator):
		// Own finalize response with tasks remaining: start the next one.
		return workflow.Transfer(agent.RoleCoder, map[string]any{
			"instruction": "begin the next task",
		})
	default:
		return workflow.Fail(fmt.Sprintf("orchestrator cannot act on %s message from %s", last.Type, last.From))
	}
}

func (s *Stepper) code(last logbook.Message) workflow.Action {
	if last.Type == logbook.TypeToolCall && last.From == string(agent.RoleCoder) {
		if last.To == "fix_function" {
			return workflow.Patch(agent.RoleOrchestrator, map[string]any{
				"message": "applied a fix, ready for retesting",
			})
		}
		return workflow.Transfer(agent.RoleOrchestrator, map[string]any{
			"message": "implementation ready for testing",
		})
	}
	tool := "create_function"
	if instruction, ok := payloadField(last.Payload, "instruction"); ok && strings.Contains(instruction, "fix") {
		tool = "fix_function"
	}
	return workflow.ToolCall(tool, map[string]any{"file": s.path(s.finalized)})
}

func (s *Stepper) test(last logbook.Message) workflow.Action {
	switch {
	case last.Type == logbook.TypeToolCall && last.To == "run_unit_tests":
		if s.FailFirstRun && !s.failedOnce {
			s.failedOnce = true
			return workflow.Report(agent.RoleOrchestrator, false, map[string]any{
				"summary": "1 test failed",
			})
		}
		return workflow.Report(agent.RoleOrchestrator, true, map[string]any{
			"summary": "all tests passed",
		})
	case last.Type == logbook.TypeToolCall && last.To == "write_unit_tests":
		return workflow.ToolCall("run_unit_tests", map[string]any{"file": s.path(s.finalized)})
	default:
		return workflow.ToolCall("write_unit_tests", map[string]any{"file": s.path(s.finalized)})
	}
}

func (s *Stepper) path(index int) string {
	name := s.FileName
	if name == "" {
		name = "generated_function.py"
	}
	if index == 0 {
		return name
	}
	ext := ""
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		ext = name[dot:]
		name = name[:dot]
	}
	return fmt.Sprintf("%s_%d%s", name, index+1, ext)
}

func promptFrom(conversation []logbook.Message) string {
	for _, msg := range conversation {
		if msg.From == agent.SenderUser && msg.Type == logbook.TypeRequest {
			if prompt, ok := payloadField(msg.Payload, "prompt"); ok {
				return prompt
			}
		}
	}
	return "the requested function"
}

func payloadField(payload any, key string) (string, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	value, ok := m[key].(string)
	return value, ok
}

func functionBody(prompt string) string {
	name := slug(prompt)
	return fmt.Sprintf("def %s():\n    \"\"\"%s\"\"\"\n    return True\n", name, prompt)
}

func slug(prompt string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(prompt)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "generated_function"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "fn_" + out
	}
	return out
}
