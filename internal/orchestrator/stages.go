package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/agentspawn/internal/classifier"
	"github.com/nidhogg/agentspawn/internal/registry"
)

// Each stage below is a pure function of its inputs: it returns the next
// State and the events the engine should publish. None of them performs I/O.

// NewState creates the INITIALIZED state for a run.
func NewState(taskID, text, threadID, history string) State {
	return State{
		Task:     TaskMetadata{TaskID: taskID, RawText: text},
		ThreadID: threadID,
		History:  history,
		Status:   StatusInitialized,
	}
}

// Assess classifies the task text. It cannot fail.
func Assess(s State) (State, []Event) {
	if next, evs, ok := guard(s, StatusInitialized, StatusAssessing); !ok {
		return next, evs
	}
	n := s.clone()
	n.Status = StatusAssessing
	tier, keywords := classifier.Classify(n.Task.RawText)
	scores := classifier.Score(n.Task.RawText)
	n.Task.Complexity = tier
	n.Task.Keywords = keywords
	n.Reasoning = append(n.Reasoning, fmt.Sprintf(
		"Assessed complexity %s (scores simple=%d moderate=%d complex=%d).",
		tier, scores.Simple, scores.Moderate, scores.Complex))
	return n, []Event{{
		Type:   EventTaskClassified,
		TaskID: n.Task.TaskID,
		Status: string(tier),
		Detail: strings.Join(keywords, ","),
	}}
}

// Decide validates the selector's candidates against the registry. Unknown
// types are dropped and recorded in Errors; the run continues.
func Decide(s State, candidates []registry.AgentType, has func(registry.AgentType) bool) (State, []Event) {
	if next, evs, ok := guard(s, StatusAssessing, StatusDecidingAgents); !ok {
		return next, evs
	}
	n := s.clone()
	n.Status = StatusDecidingAgents
	n.Candidates = nil

	var evs []Event
	for _, at := range candidates {
		if has(at) {
			n.Candidates = append(n.Candidates, at)
			continue
		}
		n.Skipped = append(n.Skipped, at)
		n.Errors = append(n.Errors, fmt.Sprintf("unknown agent type %q dropped", at))
		evs = append(evs, Event{
			Type:      EventAgentSkipped,
			TaskID:    n.Task.TaskID,
			AgentType: at,
			Detail:    "not registered",
		})
	}
	n.Task.RequiresMultipleAgents = len(n.Candidates) > 1

	switch {
	case len(n.Candidates) == 0:
		n.Reasoning = append(n.Reasoning, "No specialists required; answering with direct reasoning.")
	default:
		n.Reasoning = append(n.Reasoning, fmt.Sprintf("Selected specialists: %s.", joinTypes(n.Candidates)))
	}
	return n, evs
}

// Spawn creates one INITIALIZED record per candidate, in decision order.
// newID must return an ID unique within the run.
func Spawn(s State, newID func(registry.AgentType) string) (State, []Event) {
	if next, evs, ok := guard(s, StatusDecidingAgents, StatusSpawning); !ok {
		return next, evs
	}
	n := s.clone()
	n.Status = StatusSpawning
	n.Agents = make([]SpawnedAgent, 0, len(n.Candidates))
	evs := make([]Event, 0, len(n.Candidates))
	for _, at := range n.Candidates {
		rec := SpawnedAgent{AgentType: at, AgentID: newID(at), Status: AgentInitialized}
		n.Agents = append(n.Agents, rec)
		evs = append(evs, Event{
			Type:      EventAgentSpawned,
			TaskID:    n.Task.TaskID,
			AgentType: at,
			AgentID:   rec.AgentID,
			Status:    string(rec.Status),
		})
	}
	return n, evs
}

// Outcome is the result of executing the record at Index.
type Outcome struct {
	Index    int
	Output   string
	Err      error
	Duration time.Duration
}

// Collect applies execution outcomes to their records. Records without a
// successful outcome become FAILED; the run always moves on to aggregation.
func Collect(s State, outcomes []Outcome) (State, []Event) {
	if next, evs, ok := guard(s, StatusSpawning, StatusAggregating); !ok {
		return next, evs
	}
	n := s.clone()
	n.Status = StatusAggregating

	seen := make(map[int]bool, len(outcomes))
	var evs []Event
	for _, o := range outcomes {
		if o.Index < 0 || o.Index >= len(n.Agents) || seen[o.Index] {
			continue
		}
		seen[o.Index] = true
		rec := &n.Agents[o.Index]
		rec.Duration = o.Duration
		if o.Err == nil {
			rec.Status = AgentCompleted
			rec.Result = o.Output
			evs = append(evs, agentEvent(n, *rec, EventAgentCompleted, ""))
			continue
		}
		rec.Status = AgentFailed
		rec.Error = o.Err.Error()
		n.Errors = append(n.Errors, fmt.Sprintf("%s (%s) failed: %s", rec.AgentType, rec.AgentID, rec.Error))
		evs = append(evs, agentEvent(n, *rec, EventAgentFailed, rec.Error))
	}
	for i := range n.Agents {
		rec := &n.Agents[i]
		if rec.Status.Terminal() {
			continue
		}
		rec.Status = AgentFailed
		rec.Error = "no outcome recorded"
		n.Errors = append(n.Errors, fmt.Sprintf("%s (%s) failed: %s", rec.AgentType, rec.AgentID, rec.Error))
		evs = append(evs, agentEvent(n, *rec, EventAgentFailed, rec.Error))
	}

	done := len(n.Completed())
	n.Reasoning = append(n.Reasoning, fmt.Sprintf("%d of %d specialists completed.", done, len(n.Agents)))
	return n, evs
}

// Answer records the direct-reasoning output and moves straight to
// aggregation, skipping SPAWNING.
func Answer(s State, output string, err error) (State, []Event) {
	if next, evs, ok := guard(s, StatusDecidingAgents, StatusAggregating); !ok {
		return next, evs
	}
	n := s.clone()
	n.Status = StatusAggregating
	if err != nil {
		n.Errors = append(n.Errors, fmt.Sprintf("direct reasoning failed: %v", err))
		return n, []Event{{Type: EventDirectAnswer, TaskID: n.Task.TaskID, Status: "failed", Detail: err.Error()}}
	}
	n.Direct = &output
	return n, []Event{{Type: EventDirectAnswer, TaskID: n.Task.TaskID, Status: "completed"}}
}

// HasOutput reports whether aggregation has anything to work with.
func (s State) HasOutput() bool {
	return s.Direct != nil || len(s.Completed()) > 0
}

// Finish moves an AGGREGATING state to COMPLETE with the final response.
// A non-nil aggErr means synthesis failed and final is the fallback; it is
// recorded but does not fail the run.
func Finish(s State, final, trace string, aggErr error) (State, []Event) {
	if next, evs, ok := guard(s, StatusAggregating, StatusComplete); !ok {
		return next, evs
	}
	if !s.HasOutput() {
		return Fail(s, totalFailureReason(s))
	}
	n := s.clone()
	n.Status = StatusComplete
	n.Final = final
	if aggErr != nil {
		n.Errors = append(n.Errors, fmt.Sprintf("synthesis failed, used concatenation: %v", aggErr))
	}
	if trace != "" {
		n.Reasoning = append(n.Reasoning, trace)
	}
	return n, []Event{{Type: EventTaskCompleted, TaskID: n.Task.TaskID, Status: string(StatusComplete)}}
}

// Fail moves any non-terminal state to FAILED.
func Fail(s State, reason string) (State, []Event) {
	if s.Status.Terminal() {
		return s, nil
	}
	n := s.clone()
	n.Status = StatusFailed
	n.Errors = append(n.Errors, reason)
	n.Final = "Task failed: " + reason
	n.Reasoning = append(n.Reasoning, "Run failed: "+reason)
	return n, []Event{{Type: EventTaskFailed, TaskID: n.Task.TaskID, Status: string(StatusFailed), Detail: reason}}
}

func totalFailureReason(s State) string {
	if len(s.Agents) == 0 {
		return "direct reasoning produced no answer"
	}
	return fmt.Sprintf("all %d specialist(s) failed", len(s.Agents))
}

// guard checks that s is in the expected stage. Out-of-order transitions
// fail the run instead of regressing it.
func guard(s State, from, to WorkflowStatus) (State, []Event, bool) {
	if s.Status == from && statusOrder[to] > statusOrder[from] {
		return s, nil, true
	}
	if s.Status.Terminal() {
		return s, nil, false
	}
	next, evs := Fail(s, fmt.Sprintf("invalid transition %s -> %s", s.Status, to))
	return next, evs, false
}

func agentEvent(s State, rec SpawnedAgent, t EventType, detail string) Event {
	return Event{
		Type:      t,
		TaskID:    s.Task.TaskID,
		AgentType: rec.AgentType,
		AgentID:   rec.AgentID,
		Status:    string(rec.Status),
		Detail:    detail,
	}
}

func joinTypes(types []registry.AgentType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
