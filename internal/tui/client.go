package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codecrew-dev/codecrew/internal/artifact"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/task"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

// Client talks to a running codecrew server. The viewer polls the read
// endpoints; it holds no workflow state of its own.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("tui: get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var env errorEnvelope
		_ = json.NewDecoder(resp.Body).Decode(&env)
		if env.Message != "" {
			return fmt.Errorf("tui: %s: %s", path, env.Message)
		}
		return fmt.Errorf("tui: %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("tui: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return 0, fmt.Errorf("tui: post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("tui: decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Status fetches the aggregate system snapshot.
func (c *Client) Status() (workflow.SystemStatus, error) {
	var body struct {
		SystemStatus workflow.SystemStatus `json:"system_status"`
	}
	err := c.get("/status", &body)
	return body.SystemStatus, err
}

// Messages fetches messages after the given cursor.
func (c *Client) Messages(since int64, limit int) ([]logbook.Message, error) {
	path := "/messages?since=" + strconv.FormatInt(since, 10) + "&limit=" + strconv.Itoa(limit)
	var body struct {
		Messages []logbook.Message `json:"messages"`
	}
	if err := c.get(path, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// Tasks fetches the task board.
func (c *Client) Tasks() ([]task.View, int, workflow.Status, error) {
	var body struct {
		Tasks            []task.View     `json:"tasks"`
		CurrentTaskIndex int             `json:"currentTaskIndex"`
		WorkflowStatus   workflow.Status `json:"workflowStatus"`
	}
	if err := c.get("/tasks", &body); err != nil {
		return nil, 0, "", err
	}
	return body.Tasks, body.CurrentTaskIndex, body.WorkflowStatus, nil
}

// Files fetches the generated artifact listing.
func (c *Client) Files() ([]artifact.GeneratedFile, error) {
	var body struct {
		Files []artifact.GeneratedFile `json:"files"`
	}
	if err := c.get("/files", &body); err != nil {
		return nil, err
	}
	return body.Files, nil
}

// Submit starts a new workflow run. A conflict (a run already active) is
// returned as an error carrying the server's message.
func (c *Client) Submit(prompt string) (string, error) {
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		RunID   string `json:"run_id"`
	}
	code, err := c.post("/submit-prompt", map[string]string{"prompt": prompt}, &body)
	if err != nil {
		return "", err
	}
	if code != http.StatusAccepted {
		if body.Message != "" {
			return "", fmt.Errorf("tui: submit: %s", body.Message)
		}
		return "", fmt.Errorf("tui: submit: unexpected status %d", code)
	}
	return body.RunID, nil
}

// Reset clears the server's workflow state.
func (c *Client) Reset() error {
	code, err := c.post("/reset", nil, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("tui: reset: unexpected status %d", code)
	}
	return nil
}
