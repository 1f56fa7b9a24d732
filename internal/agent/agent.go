package agent

import (
	"errors"
	"fmt"
)

// Role identifies one of the fixed agent identities in the crew.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleCoder        Role = "coder"
	RoleTester       Role = "tester"
	RoleDatabase     Role = "database"
	RoleResearch     Role = "research"
)

// SenderUser is the reserved identity for the human submitting a prompt.
// It is a valid message endpoint but never an agent: it cannot act, hold
// tools, or receive hand-offs.
const SenderUser = "user"

// ErrUnknownAgent is returned when resolving an identity that is not registered.
var ErrUnknownAgent = errors.New("agent: unknown agent")

// Agent is the immutable configuration for one role. Agents are loaded once
// at construction; nothing mutates them per run.
type Agent struct {
	ID           Role     `json:"id"`
	Capabilities []string `json:"capabilities"`
	Tools        []string `json:"tools"`
	Description  string   `json:"description"`
}

// HasTool reports whether the agent declares the named tool.
func (a Agent) HasTool(tool string) bool {
	for _, t := range a.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// Registry holds the fixed agent table and the authority graph of permitted
// hand-off edges. It is pure configuration: no method has side effects.
type Registry struct {
	order  []Role
	agents map[Role]Agent
	edges  map[Role]map[Role]bool
}

// NewRegistry builds the standard crew. The orchestrator, coder, and tester
// are always present; includeOptional adds the database and research roles.
func NewRegistry(includeOptional bool) *Registry {
	r := &Registry{
		agents: map[Role]Agent{},
		edges:  map[Role]map[Role]bool{},
	}
	r.add(Agent{
		ID:           RoleOrchestrator,
		Capabilities: []string{"coordinate_workflow", "parse_requests", "manage_tasks", "finalize_functions"},
		Tools:        []string{"read_file", "list_directory", "finalize_function"},
		Description:  "Manages the entire coding workflow and coordinates between other agents",
	})
	r.add(Agent{
		ID:           RoleCoder,
		Capabilities: []string{"implement_functions", "fix_code", "write_documentation"},
		Tools:        []string{"create_function", "fix_function"},
		Description:  "Implements functions and fixes code issues based on specifications",
	})
	r.add(Agent{
		ID:           RoleTester,
		Capabilities: []string{"write_tests", "run_tests", "setup_environment", "analyze_failures"},
		Tools:        []string{"setup_test_environment", "write_unit_tests", "run_unit_tests"},
		Description:  "Writes comprehensive unit tests and validates code functionality",
	})
	if includeOptional {
		r.add(Agent{
			ID:           RoleDatabase,
			Capabilities: []string{"store_knowledge", "retrieve_knowledge"},
			Tools:        []string{"kg_updater", "kg_retriever"},
			Description:  "Stores and retrieves context in the knowledge graph",
		})
		r.add(Agent{
			ID:           RoleResearch,
			Capabilities: []string{"web_research", "summarize_sources"},
			Tools:        []string{"web_search", "search_wikipedia"},
			Description:  "Researches external sources to inform implementation decisions",
		})
	}

	// Every non-orchestrator role hands control back to the orchestrator,
	// so the orchestrator stays reachable from every branch.
	for _, id := range r.order {
		if id == RoleOrchestrator {
			continue
		}
		r.allow(RoleOrchestrator, id)
		r.allow(id, RoleOrchestrator)
	}
	return r
}

func (r *Registry) add(a Agent) {
	r.agents[a.ID] = a
	r.order = append(r.order, a.ID)
}

func (r *Registry) allow(from, to Role) {
	if r.edges[from] == nil {
		r.edges[from] = map[Role]bool{}
	}
	r.edges[from][to] = true
}

// Resolve returns the agent registered under id.
func (r *Registry) Resolve(id Role) (Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}

// IsRegistered reports whether id names a configured agent.
func (r *Registry) IsRegistered(id Role) bool {
	_, ok := r.agents[id]
	return ok
}

// IsAuthorized reports whether from may hand off to to. Edges always require
// from != to; an agent never transfers to itself.
func (r *Registry) IsAuthorized(from, to Role) bool {
	if from == to {
		return false
	}
	return r.edges[from][to]
}

// HasTool reports whether the agent registered under id declares tool.
func (r *Registry) HasTool(id Role, tool string) bool {
	a, ok := r.agents[id]
	if !ok {
		return false
	}
	return a.HasTool(tool)
}

// List returns the agents in registration order.
func (r *Registry) List() []Agent {
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.agents)
}
