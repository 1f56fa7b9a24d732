package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/artifact"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/metrics"
	"github.com/codecrew-dev/codecrew/internal/task"
)

const (
	// DefaultHandoffLimit bounds control transfers per run so orchestration
	// cycles cannot spin forever.
	DefaultHandoffLimit = 24
	// DefaultStepRetries retries a failed external step at most once with
	// the same context before the run is marked failed.
	DefaultStepRetries = 1
)

var allStatuses = []string{
	string(StatusIdle), string(StatusPlanning), string(StatusCoding),
	string(StatusTesting), string(StatusCompleted), string(StatusFailed),
}

// Logger records engine activity. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Observer is notified of every stored message, in log order, while the
// engine lock is held. Implementations must not block; the websocket hub
// uses a buffered non-blocking send.
type Observer func(logbook.Message)

// Engine owns the singleton workflow state for the process: the message log,
// task tracker, and artifact tracker for the active run, plus the background
// loop that drives one agent step at a time. All mutations go through a
// single mutex so every message append lands atomically with its
// consequential state updates; readers take point-in-time copies and never
// block the writer for long.
type Engine struct {
	registry *agent.Registry
	stepper  Stepper
	logger   Logger
	metrics  *metrics.Metrics
	observer Observer
	clock    func() time.Time

	fileStore artifact.FileStore

	handoffLimit int
	stepRetries  int

	mu    sync.RWMutex
	log   *logbook.Logbook
	tasks *task.Tracker
	files *artifact.Tracker

	status     Status
	active     agent.Role
	runID      string
	documents  []Document
	handoffs   int
	testPassed bool
	failReason string

	// generation invalidates a cancelled loop: every apply re-checks it
	// under the mutex, so no write can land after reset cleared the stores.
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithLogger attaches an activity logger.
func WithLogger(l Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver attaches a message observer (used by the live stream hub).
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithHandoffLimit overrides the per-run handoff budget.
func WithHandoffLimit(limit int) EngineOption {
	return func(e *Engine) {
		if limit > 0 {
			e.handoffLimit = limit
		}
	}
}

// WithStepRetries overrides how often a failed external step is retried.
func WithStepRetries(retries int) EngineOption {
	return func(e *Engine) {
		if retries >= 0 {
			e.stepRetries = retries
		}
	}
}

// WithFileStore attaches a persistence backend for generated artifacts.
func WithFileStore(store artifact.FileStore) EngineOption {
	return func(e *Engine) { e.fileStore = store }
}

// SetObserver installs or replaces the message observer. The HTTP server is
// built around an existing engine, so its stream hub attaches here after
// construction. Call before the first Submit.
func (e *Engine) SetObserver(o Observer) {
	e.mu.Lock()
	e.observer = o
	e.mu.Unlock()
}

// NewEngine wires an engine to the agent registry and the external stepper.
func NewEngine(registry *agent.Registry, stepper Stepper, opts ...EngineOption) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("workflow: agent registry is required")
	}
	if stepper == nil {
		return nil, fmt.Errorf("workflow: stepper is required")
	}
	e := &Engine{
		registry:     registry,
		stepper:      stepper,
		logger:       nopLogger{},
		clock:        func() time.Time { return time.Now().UTC() },
		handoffLimit: DefaultHandoffLimit,
		stepRetries:  DefaultStepRetries,
		status:       StatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	// Stores are built after the options so the chosen clock and file
	// store reach every tracker, whatever order the options came in.
	e.log = logbook.New(registry, logbook.WithClock(e.clock))
	e.tasks = task.NewTracker(task.WithClock(e.clock))
	fileOpts := []artifact.Option{artifact.WithClock(e.clock)}
	if e.fileStore != nil {
		fileOpts = append(fileOpts, artifact.WithFileStore(e.fileStore))
	}
	e.files = artifact.NewTracker(fileOpts...)
	return e, nil
}

// Submit starts a new run for prompt. It fails with ErrWorkflowBusy while a
// run is active; a completed or failed run is replaced by a fresh one. The
// returned id identifies the run.
func (e *Engine) Submit(prompt string, documents []Document) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Active() {
		return "", ErrWorkflowBusy
	}

	// Fresh run: previous terminal state is discarded.
	e.log.Clear()
	e.tasks.Reset()
	e.files.Clear()
	e.runID = uuid.NewString()
	e.documents = append([]Document(nil), documents...)
	e.handoffs = 0
	e.testPassed = false
	e.failReason = ""
	e.setStatusLocked(StatusPlanning)
	e.active = agent.RoleOrchestrator
	e.generation++
	gen := e.generation

	payload := map[string]any{"prompt": prompt}
	if len(documents) > 0 {
		payload["documents"] = e.documents
	}
	if _, err := e.appendLocked(logbook.Message{
		From:    agent.SenderUser,
		To:      string(agent.RoleOrchestrator),
		Type:    logbook.TypeRequest,
		Payload: payload,
	}); err != nil {
		e.setStatusLocked(StatusIdle)
		return "", err
	}

	// Release the finished run's context before installing the new one.
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.metrics.RunStarted()
	e.logger.Printf("workflow: run %s started", e.runID)
	go e.run(ctx, gen, e.done)
	return e.runID, nil
}

// Reset cancels any active run and clears all shared stores. It is
// idempotent. The cancelled loop observes the flag at its next suspension
// point and discards any in-flight action, so no write survives the reset.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.generation++
	e.log.Clear()
	e.tasks.Reset()
	e.files.Clear()
	e.documents = nil
	e.runID = ""
	e.active = ""
	e.handoffs = 0
	e.testPassed = false
	e.failReason = ""
	e.setStatusLocked(StatusIdle)
	e.logger.Printf("workflow: reset")
}

// Done returns a channel closed when the current run's loop exits. With no
// run active the returned channel is already closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return e.done
}

// run drives the strict turn-taking loop: one agent step at a time, each
// applied atomically. The only suspension point is the external step call.
func (e *Engine) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		e.mu.RLock()
		if e.generation != gen || !e.status.Active() {
			e.mu.RUnlock()
			return
		}
		active := e.active
		conversation := e.log.ReadSince(0, 0)
		e.mu.RUnlock()

		action, err := e.step(ctx, active, conversation)
		if ctx.Err() != nil {
			// Reset raced the step; discard the in-flight action.
			return
		}

		e.mu.Lock()
		if e.generation != gen {
			e.mu.Unlock()
			return
		}
		var proceed bool
		if err != nil {
			e.failLocked(active, fmt.Sprintf("agent step failed: %v", err))
		} else {
			proceed = e.applyLocked(active, action)
		}
		e.mu.Unlock()
		if err != nil || !proceed {
			return
		}
	}
}

// step invokes the external capability, retrying a bounded number of times.
func (e *Engine) step(ctx context.Context, active agent.Role, conversation []logbook.Message) (Action, error) {
	var lastErr error
	for attempt := 0; attempt <= e.stepRetries; attempt++ {
		if attempt > 0 {
			e.metrics.StepRetried()
			e.logger.Printf("workflow: retrying step for %s (attempt %d): %v", active, attempt+1, lastErr)
		}
		action, err := e.stepper.Step(ctx, active, conversation)
		if err == nil {
			return action, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return Action{}, lastErr
}

// applyLocked applies one action and its consequential state updates as a
// single unit. It returns false when the loop must stop driving steps.
func (e *Engine) applyLocked(actor agent.Role, action Action) bool {
	switch action.Kind {
	case ActionPlan:
		return e.applyPlanLocked(actor, action)
	case ActionToolCall:
		return e.applyToolCallLocked(actor, action)
	case ActionTransfer:
		return e.applyTransferLocked(actor, action)
	case ActionFinalize:
		return e.applyFinalizeLocked(actor, action)
	case ActionError:
		e.failLocked(actor, action.Reason)
		return false
	default:
		e.failLocked(actor, fmt.Sprintf("unknown action kind %q", action.Kind))
		return false
	}
}

func (e *Engine) applyPlanLocked(actor agent.Role, action Action) bool {
	if e.status != StatusPlanning || actor != agent.RoleOrchestrator {
		e.failLocked(actor, fmt.Sprintf("%v: plan action outside planning phase", task.ErrInvalidPhase))
		return false
	}
	if err := e.tasks.SetTasks(action.Tasks); err != nil {
		e.failLocked(actor, err.Error())
		return false
	}
	payload := action.Payload
	if payload == nil {
		payload = map[string]any{"tasks": len(action.Tasks)}
	}
	if _, err := e.appendLocked(logbook.Message{
		From:    string(actor),
		To:      agent.SenderUser,
		Type:    logbook.TypePlan,
		Payload: payload,
	}); err != nil {
		e.failLocked(actor, err.Error())
		return false
	}
	// Planning done: control transfers to the coder for the first task.
	e.setStatusLocked(StatusCoding)
	return e.handoffLocked(actor, agent.RoleCoder, logbook.TypeRequest, logbook.StatusOK,
		map[string]any{"task": firstDescription(action.Tasks)})
}

func (e *Engine) applyToolCallLocked(actor agent.Role, action Action) bool {
	if _, err := e.appendLocked(logbook.Message{
		From:    string(actor),
		To:      action.Tool,
		Type:    logbook.TypeToolCall,
		Payload: action.Payload,
	}); err != nil {
		// A stepper naming an undeclared tool is a protocol violation, not
		// a transient failure; the run terminates.
		e.failLocked(actor, err.Error())
		return false
	}
	e.metrics.ToolCallRecorded()
	// The acting agent keeps control; the router immediately requests its
	// next step.
	return true
}

func (e *Engine) applyTransferLocked(actor agent.Role, action Action) bool {
	msgType := action.MsgType
	if msgType == "" {
		msgType = logbook.TypeResponse
		if actor == agent.RoleOrchestrator {
			msgType = logbook.TypeRequest
		}
	}
	outcome := action.Outcome
	if outcome == "" {
		outcome = logbook.StatusOK
	}
	if msgType == logbook.TypeTestReport {
		e.testPassed = outcome == logbook.StatusOK
	}
	return e.handoffLocked(actor, action.Target, msgType, outcome, action.Payload)
}

// handoffLocked validates a control transfer against the authority graph,
// records it, and moves the active agent.
func (e *Engine) handoffLocked(from, to agent.Role, msgType logbook.Type, outcome logbook.Status, payload any) bool {
	if !e.registry.IsRegistered(to) {
		e.failLocked(from, fmt.Sprintf("%v: %s", agent.ErrUnknownAgent, to))
		return false
	}
	if !e.registry.IsAuthorized(from, to) {
		e.failLocked(from, fmt.Sprintf("%v: %s -> %s", ErrUnauthorizedHandoff, from, to))
		return false
	}
	e.handoffs++
	if e.handoffs > e.handoffLimit {
		e.failLocked(from, fmt.Sprintf("%v: %d handoffs", ErrHandoffLimitExceeded, e.handoffs))
		return false
	}
	if _, err := e.appendLocked(logbook.Message{
		From:    string(from),
		To:      string(to),
		Type:    msgType,
		Status:  outcome,
		Payload: payload,
	}); err != nil {
		e.failLocked(from, err.Error())
		return false
	}
	e.metrics.HandoffRecorded()
	e.active = to
	switch to {
	case agent.RoleTester:
		e.setStatusLocked(StatusTesting)
	case agent.RoleCoder:
		e.setStatusLocked(StatusCoding)
		// A new patch invalidates any earlier passing report.
		e.testPassed = false
	}
	return true
}

func (e *Engine) applyFinalizeLocked(actor agent.Role, action Action) bool {
	if actor != agent.RoleOrchestrator {
		e.failLocked(actor, fmt.Sprintf("%v: only the orchestrator finalizes", ErrUnauthorizedHandoff))
		return false
	}
	// Finalize only after an explicit passing test report.
	if !e.testPassed {
		e.failLocked(actor, ErrFinalizeWithoutReport.Error())
		return false
	}
	file, err := e.files.Upsert(action.Path, action.Content, action.FileType)
	if errors.Is(err, artifact.ErrStaleWrite) {
		// The newer write already in place wins; record and move on.
		if _, werr := e.appendLocked(logbook.Message{
			From:    string(actor),
			To:      agent.SenderUser,
			Type:    logbook.TypeResponse,
			Status:  logbook.StatusWarn,
			Payload: map[string]any{"warning": err.Error(), "path": action.Path},
		}); werr != nil {
			e.failLocked(actor, werr.Error())
			return false
		}
		return true
	}
	if err != nil {
		e.failLocked(actor, fmt.Sprintf("finalize %s: %v", action.Path, err))
		return false
	}

	payload := action.Payload
	if payload == nil {
		payload = map[string]any{"message": "finalized " + file.Name, "path": file.Path}
	}
	if _, err := e.appendLocked(logbook.Message{
		From:    string(actor),
		To:      agent.SenderUser,
		Type:    logbook.TypeResponse,
		Payload: payload,
	}); err != nil {
		e.failLocked(actor, err.Error())
		return false
	}
	if err := e.tasks.Advance(); err != nil {
		e.logger.Printf("workflow: finalize without in-progress task: %v", err)
	}
	if e.tasks.Done() {
		e.setStatusLocked(StatusCompleted)
		e.logger.Printf("workflow: run %s completed", e.runID)
		return false
	}
	e.testPassed = false
	return true
}

// failLocked records an error message and moves the run to failed.
func (e *Engine) failLocked(actor agent.Role, reason string) {
	from := string(actor)
	if !e.registry.IsRegistered(actor) {
		from = string(agent.RoleOrchestrator)
	}
	if _, err := e.appendLocked(logbook.Message{
		From:    from,
		To:      agent.SenderUser,
		Type:    logbook.TypeError,
		Status:  logbook.StatusFail,
		Payload: map[string]any{"reason": reason},
	}); err != nil {
		e.logger.Printf("workflow: failed to record error message: %v", err)
	}
	e.failReason = reason
	e.setStatusLocked(StatusFailed)
	e.metrics.RunFailed()
	e.logger.Printf("workflow: run %s failed: %s", e.runID, reason)
}

func (e *Engine) appendLocked(msg logbook.Message) (logbook.Message, error) {
	stored, err := e.log.Append(msg)
	if err != nil {
		return logbook.Message{}, err
	}
	e.metrics.MessageAppended(string(stored.Type))
	if e.observer != nil {
		e.observer(stored)
	}
	return stored, nil
}

func (e *Engine) setStatusLocked(status Status) {
	e.status = status
	e.metrics.SetWorkflowStatus(string(status), allStatuses)
}

func firstDescription(tasks []task.Task) string {
	if len(tasks) == 0 {
		return ""
	}
	return tasks[0].Description
}
