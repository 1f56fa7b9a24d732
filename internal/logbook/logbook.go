package logbook

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codecrew-dev/codecrew/internal/agent"
)

// Type classifies a log entry.
type Type string

const (
	TypeRequest    Type = "request"
	TypeResponse   Type = "response"
	TypePlan       Type = "plan"
	TypeToolCall   Type = "tool_call"
	TypePatch      Type = "patch"
	TypeTestReport Type = "test_report"
	TypeError      Type = "error"
	TypeBroadcast  Type = "broadcast"
)

// Status marks the outcome attached to a message.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// ErrInvalidMessage is returned when a message names an unresolvable sender,
// recipient, or tool.
var ErrInvalidMessage = errors.New("logbook: invalid message")

// Message is one immutable log entry. IDs are assigned on append and are
// strictly increasing within a run; insertion order is the sole source of
// truth for replay.
//
// For tool_call entries To holds a tool name declared by the sender, never an
// agent id.
type Message struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Logbook is the append-only message log for the active run. Entries are
// never mutated or removed except by Clear on a full reset.
type Logbook struct {
	registry *agent.Registry
	clock    func() time.Time

	mu      sync.RWMutex
	nextID  int64
	entries []Message
}

// Option customizes a Logbook during construction.
type Option func(*Logbook)

// WithClock overrides the timestamp source (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates an empty logbook validating identities against the registry.
func New(registry *agent.Registry, opts ...Option) *Logbook {
	l := &Logbook{
		registry: registry,
		clock:    func() time.Time { return time.Now().UTC() },
		nextID:   1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append validates msg, assigns the next sequence id, stamps the timestamp,
// and stores the entry. The stored message is returned.
func (l *Logbook) Append(msg Message) (Message, error) {
	if err := l.validate(msg); err != nil {
		return Message{}, err
	}
	if msg.Status == "" {
		msg.Status = StatusOK
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg.ID = l.nextID
	l.nextID++
	msg.Timestamp = l.clock()
	l.entries = append(l.entries, msg)
	return msg, nil
}

func (l *Logbook) validate(msg Message) error {
	if !l.isEndpoint(msg.From) {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, msg.From)
	}
	if msg.Type == TypeToolCall {
		// Tool calls are validated against the sender's declared tool list;
		// a colliding agent id never turns a tool call into a hand-off.
		if !l.registry.HasTool(agent.Role(msg.From), msg.To) {
			return fmt.Errorf("%w: agent %q does not declare tool %q", ErrInvalidMessage, msg.From, msg.To)
		}
		return nil
	}
	if !l.isEndpoint(msg.To) {
		return fmt.Errorf("%w: unknown recipient %q", ErrInvalidMessage, msg.To)
	}
	return nil
}

func (l *Logbook) isEndpoint(id string) bool {
	return id == agent.SenderUser || l.registry.IsRegistered(agent.Role(id))
}

// ReadSince returns messages with id > cursor, in log order, up to limit
// entries (limit <= 0 means no cap). The result is a copy bounded by the log
// length at call time.
func (l *Logbook) ReadSince(cursor int64, limit int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// IDs equal position+1 while the log only grows, so the start offset
	// can be computed without scanning.
	start := int(cursor)
	if start < 0 {
		start = 0
	}
	if start >= len(l.entries) {
		return nil
	}
	tail := l.entries[start:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]Message, len(tail))
	copy(out, tail)
	return out
}

// Tail returns up to limit of the most recent entries.
func (l *Logbook) Tail(limit int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Message, len(entries))
	copy(out, entries)
	return out
}

// ToolCallsFor filters the log down to tool invocations issued by agentID.
// This is a query view over the log, not a separate store.
func (l *Logbook) ToolCallsFor(agentID agent.Role) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Message
	for _, msg := range l.entries {
		if msg.Type == TypeToolCall && msg.From == string(agentID) {
			out = append(out, msg)
		}
	}
	return out
}

// Len returns the number of stored messages.
func (l *Logbook) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastError returns the most recent error entry, if any.
func (l *Logbook) LastError() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Type == TypeError {
			return l.entries[i], true
		}
	}
	return Message{}, false
}

// Clear discards all entries and restarts id assignment. Only a full reset
// may call this; it is never used mid-run.
func (l *Logbook) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.nextID = 1
}
