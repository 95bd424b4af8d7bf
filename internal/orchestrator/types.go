package orchestrator

import (
	"time"

	"github.com/nidhogg/agentspawn/internal/classifier"
	"github.com/nidhogg/agentspawn/internal/registry"
)

// WorkflowStatus is the stage a run has reached.
type WorkflowStatus string

const (
	StatusInitialized    WorkflowStatus = "initialized"
	StatusAssessing      WorkflowStatus = "assessing"
	StatusDecidingAgents WorkflowStatus = "deciding_agents"
	StatusSpawning       WorkflowStatus = "spawning"
	StatusAggregating    WorkflowStatus = "aggregating"
	StatusComplete       WorkflowStatus = "complete"
	StatusFailed         WorkflowStatus = "failed"
)

var statusOrder = map[WorkflowStatus]int{
	StatusInitialized:    0,
	StatusAssessing:      1,
	StatusDecidingAgents: 2,
	StatusSpawning:       3,
	StatusAggregating:    4,
	StatusComplete:       5,
	StatusFailed:         5,
}

// Terminal reports whether no further transition is possible.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// AgentStatus is the lifecycle state of one spawned specialist.
type AgentStatus string

const (
	AgentInitialized AgentStatus = "initialized"
	AgentRunning     AgentStatus = "running"
	AgentCompleted   AgentStatus = "completed"
	AgentFailed      AgentStatus = "failed"
)

// Terminal reports whether the record is final.
func (s AgentStatus) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed
}

// TaskMetadata is produced once per run by the assessment stage.
type TaskMetadata struct {
	TaskID                 string                `json:"task_id"`
	RawText                string                `json:"raw_text"`
	Keywords               []string              `json:"keywords"`
	Complexity             classifier.Complexity `json:"complexity"`
	RequiresMultipleAgents bool                  `json:"requires_multiple_agents"`
}

// SpawnedAgent records one specialist execution.
type SpawnedAgent struct {
	AgentType registry.AgentType `json:"agent_type"`
	AgentID   string             `json:"agent_id"`
	Status    AgentStatus        `json:"status"`
	Result    string             `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Duration  time.Duration      `json:"duration_ns,omitempty"`
}

// State is the per-run state. Stage transitions never mutate a State in
// place; they return a new one.
type State struct {
	Task       TaskMetadata
	ThreadID   string
	History    string
	Candidates []registry.AgentType
	Skipped    []registry.AgentType
	Agents     []SpawnedAgent
	Direct     *string
	Final      string
	Reasoning  []string
	Status     WorkflowStatus
	Errors     []string
}

func (s State) clone() State {
	c := s
	c.Task.Keywords = append([]string(nil), s.Task.Keywords...)
	c.Candidates = append([]registry.AgentType(nil), s.Candidates...)
	c.Skipped = append([]registry.AgentType(nil), s.Skipped...)
	c.Agents = append([]SpawnedAgent(nil), s.Agents...)
	c.Reasoning = append([]string(nil), s.Reasoning...)
	c.Errors = append([]string(nil), s.Errors...)
	if s.Direct != nil {
		d := *s.Direct
		c.Direct = &d
	}
	return c
}

// Completed returns the records that reached COMPLETED, in decision order.
func (s State) Completed() []SpawnedAgent {
	var out []SpawnedAgent
	for _, a := range s.Agents {
		if a.Status == AgentCompleted {
			out = append(out, a)
		}
	}
	return out
}

// Result is what ProcessTask returns to callers.
type Result struct {
	TaskID                string         `json:"task_id"`
	ThreadID              string         `json:"thread_id,omitempty"`
	FinalResponse         string         `json:"final_response"`
	TaskMetadata          TaskMetadata   `json:"task_metadata"`
	SpawnedAgents         []SpawnedAgent `json:"spawned_agents"`
	OrchestratorReasoning string         `json:"orchestrator_reasoning"`
	WorkflowStatus        WorkflowStatus `json:"workflow_status"`
	Errors                []string       `json:"errors"`
	StartedAt             time.Time      `json:"started_at"`
	CompletedAt           time.Time      `json:"completed_at"`
}

// Succeeded reports whether the run completed, possibly with partial
// agent failures.
func (r *Result) Succeeded() bool {
	return r.WorkflowStatus == StatusComplete
}
