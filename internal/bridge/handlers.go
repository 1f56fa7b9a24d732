package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

// defaultMessageLimit caps a messages response when the client supplies no
// limit of its own.
const defaultMessageLimit = 50

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StreamClients int    `json:"stream_clients"`
}

type submitRequest struct {
	Prompt    string              `json:"prompt"`
	Documents []workflow.Document `json:"documents,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Version:       Version,
		UptimeSeconds: s.uptimeSeconds(),
		StreamClients: s.hub.clientCount(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	agents := s.engine.Agents()
	writeSuccess(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	since, err := queryInt64(r, "since", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultMessageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs := s.engine.Messages(since, limit)
	writeSuccess(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("agent"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "agent query parameter is required")
		return
	}
	calls := s.engine.ToolCalls(agent.Role(id))
	writeSuccess(w, http.StatusOK, map[string]any{
		"agent":      id,
		"tool_calls": calls,
		"count":      len(calls),
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	views, index, status := s.engine.TasksSnapshot()
	writeSuccess(w, http.StatusOK, map[string]any{
		"tasks":            views,
		"currentTaskIndex": index,
		"workflowStatus":   status,
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	files := s.engine.Files()
	writeSuccess(w, http.StatusOK, map[string]any{
		"files": files,
		"count": len(files),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"system_status": s.engine.SystemStatus(),
	})
}

func (s *Server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()

	var req submitRequest
	if err := json.NewDecoder(reader).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	runID, err := s.engine.Submit(req.Prompt, req.Documents)
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Printf("bridge: submit failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}
	writeSuccess(w, http.StatusAccepted, map[string]any{
		"message": "workflow started",
		"run_id":  runID,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	s.engine.Reset()
	writeSuccess(w, http.StatusOK, map[string]any{
		"message": "system reset",
	})
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return value, nil
}

func queryInt64(r *http.Request, key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return value, nil
}

// writeSuccess wraps payload in the success envelope every JSON endpoint
// shares.
func writeSuccess(w http.ResponseWriter, code int, payload map[string]any) {
	body := map[string]any{"status": "success"}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, code, body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"status":  "error",
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
