package tui

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/bridge"
	"github.com/codecrew-dev/codecrew/internal/scripted"
	"github.com/codecrew-dev/codecrew/internal/task"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

func startBackend(t *testing.T) (*workflow.Engine, *Client) {
	t.Helper()
	eng, err := workflow.NewEngine(agent.NewRegistry(false), &scripted.Stepper{FileName: "add.py"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv, err := bridge.NewServer(bridge.Settings{}, eng)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		eng.Reset()
	})
	return eng, NewClient(ts.URL)
}

func runToCompletion(t *testing.T, eng *workflow.Engine, client *Client) {
	t.Helper()
	if _, err := client.Submit("Create add(a,b)"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-eng.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not finish")
	}
}

func TestClientRoundTrip(t *testing.T) {
	eng, client := startBackend(t)
	runToCompletion(t, eng, client)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.WorkflowStatus != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s", status.WorkflowStatus)
	}

	msgs, err := client.Messages(0, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) == 0 || msgs[0].From != agent.SenderUser {
		t.Fatalf("unexpected conversation head: %+v", msgs[:min(1, len(msgs))])
	}

	tasks, index, wfStatus, err := client.Tasks()
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 1 || index != 1 || wfStatus != workflow.StatusCompleted {
		t.Fatalf("unexpected task board: tasks=%d index=%d status=%s", len(tasks), index, wfStatus)
	}
	if tasks[0].Status != task.StatusCompleted {
		t.Fatalf("task should be completed, got %s", tasks[0].Status)
	}

	files, err := client.Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 1 || files[0].Path != "add.py" {
		t.Fatalf("unexpected files: %+v", files)
	}

	if err := client.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	status, err = client.Status()
	if err != nil {
		t.Fatalf("status after reset: %v", err)
	}
	if status.WorkflowStatus != workflow.StatusIdle || status.MessagesCount != 0 {
		t.Fatalf("reset did not clear state: %+v", status)
	}
}

func TestAppendMessagesDetectsServerReset(t *testing.T) {
	app := NewApp("http://127.0.0.1:1", time.Second)
	app.status.MessagesCount = 2
	app.appendMessages(nil)
	app.messages = nil
	app.cursor = 10

	// Cursor beyond the server's log means the server restarted the run.
	app.status.MessagesCount = 2
	app.appendMessages(nil)
	if app.cursor != 0 {
		t.Fatalf("cursor should rewind after a server reset, got %d", app.cursor)
	}
}

func TestPayloadSummary(t *testing.T) {
	if got := payloadSummary(map[string]any{"instruction": "fix it"}); got != "fix it" {
		t.Fatalf("payloadSummary = %q", got)
	}
	if got := payloadSummary("plain"); got != "plain" {
		t.Fatalf("payloadSummary = %q", got)
	}
	if got := payloadSummary(nil); got != "" {
		t.Fatalf("payloadSummary(nil) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 60); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}
