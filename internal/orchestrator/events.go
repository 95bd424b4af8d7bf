package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nidhogg/agentspawn/internal/registry"
)

// EventType names a lifecycle event emitted during a run.
type EventType string

const (
	EventTaskReceived   EventType = "task.received"
	EventTaskClassified EventType = "task.classified"
	EventAgentSkipped   EventType = "agent.skipped"
	EventAgentSpawned   EventType = "agent.spawned"
	EventAgentRunning   EventType = "agent.running"
	EventAgentCompleted EventType = "agent.completed"
	EventAgentFailed    EventType = "agent.failed"
	EventDirectAnswer   EventType = "task.direct"
	EventTaskCompleted  EventType = "task.completed"
	EventTaskFailed     EventType = "task.failed"
)

// Event is one observable side effect of a stage transition.
type Event struct {
	ID        string             `json:"id,omitempty"`
	Type      EventType          `json:"type"`
	TaskID    string             `json:"task_id"`
	ThreadID  string             `json:"thread_id,omitempty"`
	AgentType registry.AgentType `json:"agent_type,omitempty"`
	AgentID   string             `json:"agent_id,omitempty"`
	Status    string             `json:"status,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	At        time.Time          `json:"at"`
}

// EventSink receives run events. Publish failures never affect the run.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// Publish sends ev to every sink and joins their errors.
func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }

// EventLog can replay recent events.
type EventLog interface {
	Recent(ctx context.Context, n int64, taskID string) ([]Event, error)
}

// Recorder keeps the last events in memory. It serves as the event log when
// no external stream is configured.
type Recorder struct {
	mu     sync.Mutex
	size   int
	events []Event
}

// NewRecorder creates a Recorder keeping up to size events.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 1000
	}
	return &Recorder{size: size}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if len(r.events) > r.size {
		r.events = append([]Event(nil), r.events[len(r.events)-r.size:]...)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (r *Recorder) Recent(_ context.Context, n int64, taskID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for i := len(r.events) - 1; i >= 0 && (n <= 0 || int64(len(out)) < n); i-- {
		if taskID != "" && r.events[i].TaskID != taskID {
			continue
		}
		out = append(out, r.events[i])
	}
	return out, nil
}
