package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/scripted"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

func newTestServer(t *testing.T, stepper workflow.Stepper) (*Server, *workflow.Engine, *httptest.Server) {
	t.Helper()
	registry := agent.NewRegistry(false)
	eng, err := workflow.NewEngine(registry, stepper)
	require.NoError(t, err)
	srv, err := NewServer(Settings{Host: "127.0.0.1", Port: 0}, eng)
	require.NoError(t, err)
	eng.SetObserver(srv.Observer())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		eng.Reset()
	})
	return srv, eng, ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func waitForCompletion(t *testing.T, eng *workflow.Engine) {
	t.Helper()
	select {
	case <-eng.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not finish")
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, &scripted.Stepper{})
	var body map[string]any
	resp := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "starting", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestSubmitPromptRunsWorkflow(t *testing.T) {
	_, eng, ts := newTestServer(t, &scripted.Stepper{FileName: "add.py"})

	resp, body := postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "Create add(a,b)"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["run_id"])

	waitForCompletion(t, eng)

	var status map[string]any
	getJSON(t, ts.URL+"/status", &status)
	assert.Equal(t, "success", status["status"])
	system, ok := status["system_status"].(map[string]any)
	require.True(t, ok, "status payload must nest system_status, got %+v", status)
	assert.Equal(t, "completed", system["workflow_status"])
	assert.Equal(t, false, system["workflow_running"])

	var files map[string]any
	getJSON(t, ts.URL+"/files", &files)
	assert.EqualValues(t, 1, files["count"])

	var tasks map[string]any
	getJSON(t, ts.URL+"/tasks", &tasks)
	assert.EqualValues(t, 1, tasks["currentTaskIndex"])
	assert.Equal(t, "completed", tasks["workflowStatus"])
}

func TestSubmitPromptValidation(t *testing.T) {
	_, _, ts := newTestServer(t, &scripted.Stepper{})

	resp, body := postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])

	raw, err := http.Post(ts.URL+"/submit-prompt", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	get, err := http.Get(ts.URL + "/submit-prompt")
	require.NoError(t, err)
	defer get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestSubmitWhileRunningConflicts(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	stepper := workflow.StepperFunc(func(ctx context.Context, _ agent.Role, _ []logbook.Message) (workflow.Action, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return workflow.Fail("stopped"), nil
	})
	_, eng, ts := newTestServer(t, stepper)

	resp, _ := postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "first"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-started

	resp2, body := postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "second"})
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
	assert.Equal(t, "error", body["status"])
	close(release)
	waitForCompletion(t, eng)
}

func TestMessagesPagination(t *testing.T) {
	_, eng, ts := newTestServer(t, &scripted.Stepper{})
	_, _ = postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "Create add(a,b)"})
	waitForCompletion(t, eng)

	var all map[string]any
	getJSON(t, ts.URL+"/messages?limit=0", &all)
	msgs := all["messages"].([]any)
	require.Greater(t, len(msgs), 3)

	var page map[string]any
	getJSON(t, ts.URL+"/messages?limit=2", &page)
	assert.Len(t, page["messages"], 2)

	first := msgs[0].(map[string]any)
	cursor := int64(first["id"].(float64))
	var rest map[string]any
	getJSON(t, ts.URL+"/messages?since="+jsonNum(cursor)+"&limit=0", &rest)
	assert.Len(t, rest["messages"], len(msgs)-1)

	bad, err := http.Get(ts.URL + "/messages?since=-1")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestToolCallsEndpoint(t *testing.T) {
	_, eng, ts := newTestServer(t, &scripted.Stepper{})
	_, _ = postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "Create add(a,b)"})
	waitForCompletion(t, eng)

	var body map[string]any
	getJSON(t, ts.URL+"/tool-calls?agent=tester", &body)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 2, body["count"])

	missing, err := http.Get(ts.URL + "/tool-calls")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestAgentsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, &scripted.Stepper{})
	var body map[string]any
	getJSON(t, ts.URL+"/agents", &body)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 3, body["count"])
}

func TestResetEndpoint(t *testing.T) {
	_, eng, ts := newTestServer(t, &scripted.Stepper{})
	_, _ = postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "Create add(a,b)"})
	waitForCompletion(t, eng)

	resp, body := postJSON(t, ts.URL+"/reset", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	var status map[string]any
	getJSON(t, ts.URL+"/status", &status)
	system := status["system_status"].(map[string]any)
	assert.Equal(t, "idle", system["workflow_status"])
	assert.EqualValues(t, 0, system["messages_count"])
}

func TestNewServerNormalizesSettings(t *testing.T) {
	eng, err := workflow.NewEngine(agent.NewRegistry(false), &scripted.Stepper{})
	require.NoError(t, err)
	srv, err := NewServer(Settings{}, eng)
	require.NoError(t, err)
	t.Cleanup(eng.Reset)

	// A zero-value Settings must still accept request bodies.
	assert.Equal(t, DefaultMaxBodyBytes, srv.settings.MaxBodyBytes)
	assert.Equal(t, DefaultHost, srv.settings.Host)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	resp, body := postJSON(t, ts.URL+"/submit-prompt", map[string]any{"prompt": "Create add(a,b)"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	waitForCompletion(t, eng)
}

func TestStreamDeliversMessages(t *testing.T) {
	srv, eng, ts := newTestServer(t, &scripted.Stepper{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to register the client before messages flow.
	require.Eventually(t, func() bool { return srv.hub.clientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, err = eng.Submit("Create add(a,b)", nil)
	require.NoError(t, err)
	waitForCompletion(t, eng)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type    string          `json:"type"`
		Payload logbook.Message `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frame, &event))
	assert.Equal(t, "message", event.Type)
	assert.Equal(t, agent.SenderUser, event.Payload.From)
}

func TestStreamClientJoinsWithoutBroadcastLoop(t *testing.T) {
	registry := agent.NewRegistry(false)
	eng, err := workflow.NewEngine(registry, &scripted.Stepper{})
	require.NoError(t, err)
	srv, err := NewServer(Settings{Host: "127.0.0.1", Port: 0}, eng)
	require.NoError(t, err)

	// Serve the handler only; the hub broadcast loop is never started.
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.hub.clientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return srv.hub.clientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func jsonNum(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
