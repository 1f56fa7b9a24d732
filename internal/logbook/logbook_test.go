package logbook

import (
	"errors"
	"testing"
	"time"

	"github.com/codecrew-dev/codecrew/internal/agent"
)

func newTestLog() *Logbook {
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return New(agent.NewRegistry(false), WithClock(func() time.Time {
		stamp = stamp.Add(time.Millisecond)
		return stamp
	}))
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	log := newTestLog()
	var prev int64
	for i := 0; i < 5; i++ {
		msg, err := log.Append(Message{
			From: string(agent.RoleOrchestrator),
			To:   string(agent.RoleCoder),
			Type: TypeRequest,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if msg.ID <= prev {
			t.Fatalf("ids must be strictly increasing: %d after %d", msg.ID, prev)
		}
		if msg.Timestamp.IsZero() {
			t.Fatal("append must stamp the timestamp")
		}
		prev = msg.ID
	}
}

func TestAppendRejectsUnknownIdentities(t *testing.T) {
	log := newTestLog()
	if _, err := log.Append(Message{From: "ghost", To: string(agent.RoleCoder), Type: TypeRequest}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for unknown sender, got %v", err)
	}
	if _, err := log.Append(Message{From: string(agent.RoleCoder), To: "ghost", Type: TypeResponse}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for unknown recipient, got %v", err)
	}
	if log.Len() != 0 {
		t.Fatalf("rejected appends must not be stored, have %d", log.Len())
	}
}

func TestAppendAcceptsUserEndpoint(t *testing.T) {
	log := newTestLog()
	if _, err := log.Append(Message{From: agent.SenderUser, To: string(agent.RoleOrchestrator), Type: TypeRequest}); err != nil {
		t.Fatalf("user -> orchestrator should be valid: %v", err)
	}
}

func TestToolCallValidation(t *testing.T) {
	log := newTestLog()
	if _, err := log.Append(Message{From: string(agent.RoleCoder), To: "create_function", Type: TypeToolCall}); err != nil {
		t.Fatalf("declared tool should be accepted: %v", err)
	}
	// An agent id is not a tool name even though it resolves as an endpoint.
	if _, err := log.Append(Message{From: string(agent.RoleCoder), To: string(agent.RoleTester), Type: TypeToolCall}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("tool_call targeting an agent id must be rejected, got %v", err)
	}
	if _, err := log.Append(Message{From: string(agent.RoleCoder), To: "run_unit_tests", Type: TypeToolCall}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("undeclared tool must be rejected, got %v", err)
	}
}

func TestReadSince(t *testing.T) {
	log := newTestLog()
	for i := 0; i < 10; i++ {
		if _, err := log.Append(Message{From: string(agent.RoleOrchestrator), To: string(agent.RoleCoder), Type: TypeRequest}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got := log.ReadSince(4, 0)
	if len(got) != 6 {
		t.Fatalf("expected 6 messages after cursor 4, got %d", len(got))
	}
	for _, msg := range got {
		if msg.ID <= 4 {
			t.Fatalf("ReadSince returned id %d <= cursor", msg.ID)
		}
	}
	limited := log.ReadSince(0, 3)
	if len(limited) != 3 || limited[0].ID != 1 {
		t.Fatalf("unexpected limited read: %+v", limited)
	}
	if got := log.ReadSince(10, 0); got != nil {
		t.Fatalf("cursor at end should return nothing, got %+v", got)
	}
}

func TestToolCallsForFiltersBySender(t *testing.T) {
	log := newTestLog()
	mustAppend(t, log, Message{From: string(agent.RoleCoder), To: "create_function", Type: TypeToolCall})
	mustAppend(t, log, Message{From: string(agent.RoleTester), To: "run_unit_tests", Type: TypeToolCall})
	mustAppend(t, log, Message{From: string(agent.RoleCoder), To: string(agent.RoleOrchestrator), Type: TypeResponse})

	calls := log.ToolCallsFor(agent.RoleCoder)
	if len(calls) != 1 || calls[0].To != "create_function" {
		t.Fatalf("unexpected tool calls for coder: %+v", calls)
	}
}

func TestClearRestartsSequence(t *testing.T) {
	log := newTestLog()
	mustAppend(t, log, Message{From: agent.SenderUser, To: string(agent.RoleOrchestrator), Type: TypeRequest})
	log.Clear()
	if log.Len() != 0 {
		t.Fatalf("clear must empty the log, have %d", log.Len())
	}
	msg := mustAppend(t, log, Message{From: agent.SenderUser, To: string(agent.RoleOrchestrator), Type: TypeRequest})
	if msg.ID != 1 {
		t.Fatalf("sequence must restart after clear, got id %d", msg.ID)
	}
}

func mustAppend(t *testing.T, log *Logbook, msg Message) Message {
	t.Helper()
	stored, err := log.Append(msg)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return stored
}
