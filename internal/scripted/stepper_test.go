package scripted

import (
	"context"
	"testing"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

func step(t *testing.T, s *Stepper, active agent.Role, last logbook.Message) workflow.Action {
	t.Helper()
	action, err := s.Step(context.Background(), active, []logbook.Message{last})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return action
}

func TestOrchestratorPlansFromUserPrompt(t *testing.T) {
	s := &Stepper{ExtraTasks: []string{"Write docs"}}
	action := step(t, s, agent.RoleOrchestrator, logbook.Message{
		From:    agent.SenderUser,
		To:      string(agent.RoleOrchestrator),
		Type:    logbook.TypeRequest,
		Payload: map[string]any{"prompt": "Create add(a,b)"},
	})
	if action.Kind != workflow.ActionPlan {
		t.Fatalf("expected a plan, got %s", action.Kind)
	}
	if len(action.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(action.Tasks))
	}
	if action.Tasks[0].Description != "Implement: Create add(a,b)" {
		t.Fatalf("unexpected first task: %q", action.Tasks[0].Description)
	}
}

func TestCoderPicksToolFromInstruction(t *testing.T) {
	s := &Stepper{}
	fresh := step(t, s, agent.RoleCoder, logbook.Message{
		From:    string(agent.RoleOrchestrator),
		Type:    logbook.TypeRequest,
		Payload: map[string]any{"instruction": "begin the next task"},
	})
	if fresh.Kind != workflow.ActionToolCall || fresh.Tool != "create_function" {
		t.Fatalf("expected create_function call, got %+v", fresh)
	}
	fix := step(t, s, agent.RoleCoder, logbook.Message{
		From:    string(agent.RoleOrchestrator),
		Type:    logbook.TypeRequest,
		Payload: map[string]any{"instruction": "fix the function, tests failed"},
	})
	if fix.Tool != "fix_function" {
		t.Fatalf("expected fix_function call, got %+v", fix)
	}
}

func TestCoderReturnsPatchAfterFix(t *testing.T) {
	s := &Stepper{}
	action := step(t, s, agent.RoleCoder, logbook.Message{
		From: string(agent.RoleCoder),
		To:   "fix_function",
		Type: logbook.TypeToolCall,
	})
	if action.Kind != workflow.ActionTransfer || action.MsgType != logbook.TypePatch {
		t.Fatalf("expected a patch transfer, got %+v", action)
	}
	if action.Target != agent.RoleOrchestrator {
		t.Fatalf("patch must target the orchestrator, got %s", action.Target)
	}
}

func TestTesterToolSequence(t *testing.T) {
	s := &Stepper{FailFirstRun: true}
	write := step(t, s, agent.RoleTester, logbook.Message{
		From:    string(agent.RoleOrchestrator),
		Type:    logbook.TypeRequest,
		Payload: map[string]any{"instruction": "write and run unit tests"},
	})
	if write.Tool != "write_unit_tests" {
		t.Fatalf("expected write_unit_tests first, got %+v", write)
	}
	run := step(t, s, agent.RoleTester, logbook.Message{
		From: string(agent.RoleTester),
		To:   "write_unit_tests",
		Type: logbook.TypeToolCall,
	})
	if run.Tool != "run_unit_tests" {
		t.Fatalf("expected run_unit_tests next, got %+v", run)
	}

	reportCall := logbook.Message{
		From: string(agent.RoleTester),
		To:   "run_unit_tests",
		Type: logbook.TypeToolCall,
	}
	first := step(t, s, agent.RoleTester, reportCall)
	if first.MsgType != logbook.TypeTestReport || first.Outcome != logbook.StatusFail {
		t.Fatalf("first report should fail, got %+v", first)
	}
	second := step(t, s, agent.RoleTester, reportCall)
	if second.Outcome != logbook.StatusOK {
		t.Fatalf("second report should pass, got %+v", second)
	}
}

func TestPathNumbering(t *testing.T) {
	s := &Stepper{FileName: "calc.py"}
	if got := s.path(0); got != "calc.py" {
		t.Fatalf("path(0) = %q", got)
	}
	if got := s.path(1); got != "calc_2.py" {
		t.Fatalf("path(1) = %q", got)
	}
	bare := &Stepper{}
	if got := bare.path(0); got != "generated_function.py" {
		t.Fatalf("default path = %q", got)
	}
}
