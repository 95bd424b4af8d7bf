package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/agentspawn/internal/memory"
	"github.com/nidhogg/agentspawn/internal/registry"
	"github.com/nidhogg/agentspawn/internal/selector"
	"go.uber.org/zap"
)

const directPrompt = `You are a capable general assistant. Answer the task directly and
concisely. Use the previous conversation when it is relevant.`

const maxIDAttempts = 8

// Reasoner is the single-call model access used for direct answers and
// synthesis.
type Reasoner interface {
	Invoke(ctx context.Context, system, user string) (string, error)
}

// Templates is the registry view the engine needs.
type Templates interface {
	Has(t registry.AgentType) bool
	Get(t registry.AgentType) (registry.Template, error)
	Triggers() map[registry.AgentType][]string
}

// Config holds engine settings, read once at construction.
type Config struct {
	AgentTimeout   time.Duration
	MaxConcurrency int
	HistoryLimit   int
	HistoryBudget  memory.Budget
}

// Engine runs tasks through the orchestration state machine.
type Engine struct {
	cfg        Config
	templates  Templates
	selector   *selector.Selector
	reasoner   Reasoner
	aggregator *Aggregator
	scheduler  *Scheduler
	memory     memory.Provider
	compactor  *memory.Compactor
	events     EventSink
	runs       RunStore
	newID      func(registry.AgentType) string
	logger     *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithMemory enables per-thread history.
func WithMemory(m memory.Provider) Option {
	return func(e *Engine) { e.memory = m }
}

// WithCompactor summarizes recalled history that overflows the budget
// instead of truncating it.
func WithCompactor(c *memory.Compactor) Option {
	return func(e *Engine) { e.compactor = c }
}

// WithEvents publishes lifecycle events to sink.
func WithEvents(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithRunStore persists finished runs.
func WithRunStore(rs RunStore) Option {
	return func(e *Engine) { e.runs = rs }
}

// WithIDGenerator replaces the agent ID generator. Generated IDs that
// repeat within a run are regenerated.
func WithIDGenerator(gen func(registry.AgentType) string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine wires an engine. templates, reasoner and factory are required.
func NewEngine(cfg Config, templates Templates, reasoner Reasoner, factory SpecialistFactory, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	e := &Engine{
		cfg:        cfg,
		templates:  templates,
		selector:   selector.New(templates),
		reasoner:   reasoner,
		aggregator: NewAggregator(reasoner, logger),
		scheduler:  NewScheduler(factory, templates, cfg.MaxConcurrency, cfg.AgentTimeout, logger),
		events:     nopSink{},
		runs:       NewMemoryRuns(256),
		newID:      defaultAgentID,
		logger:     logger,
	}
	for _, o := range opts {
		o(e)
	}
	e.scheduler.publish = e.publish
	return e
}

func defaultAgentID(t registry.AgentType) string {
	return fmt.Sprintf("%s_%s", t, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// Scheduler exposes the running-specialist view.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Runs returns the run store.
func (e *Engine) Runs() RunStore { return e.runs }

// ProcessTask runs text through assessment, agent selection, execution and
// aggregation. It always returns a Result in a terminal status; failures
// are reported in Result.Errors rather than as a Go error.
func (e *Engine) ProcessTask(ctx context.Context, text, threadID string) *Result {
	started := time.Now()
	taskID := uuid.NewString()
	log := e.logger.With(zap.String("task_id", taskID))

	history := e.recall(ctx, threadID, text, log)
	s := NewState(taskID, text, threadID, history)
	step := func(next State, evs []Event) State {
		for _, ev := range evs {
			ev.ThreadID = next.ThreadID
			e.publish(ctx, ev)
		}
		return next
	}
	e.publish(ctx, Event{Type: EventTaskReceived, TaskID: taskID, ThreadID: threadID, Detail: preview(text)})

	s = step(Assess(s))
	log.Info("task assessed",
		zap.String("complexity", string(s.Task.Complexity)),
		zap.Strings("keywords", s.Task.Keywords))

	candidates := e.selector.DetectRequired(text, s.Task.Keywords, s.Task.Complexity)
	s = step(Decide(s, candidates, e.templates.Has))

	switch {
	case s.Status.Terminal():
	case len(s.Candidates) == 0:
		out, err := e.reasoner.Invoke(ctx, directPrompt, directInput(text, history))
		if err == nil && strings.TrimSpace(out) == "" {
			err = fmt.Errorf("empty answer")
		}
		s = step(Answer(s, out, err))
	default:
		s = step(Spawn(s, e.uniqueIDs()))
		outcomes := e.scheduler.Dispatch(ctx, s)
		s = step(Collect(s, outcomes))
	}

	if s.Status == StatusAggregating {
		if !s.HasOutput() {
			s = step(Fail(s, totalFailureReason(s)))
		} else {
			final, trace, aggErr := e.aggregator.Aggregate(ctx, s.Task, s.Agents, s.Skipped, s.Direct)
			s = step(Finish(s, final, trace, aggErr))
		}
	}
	if !s.Status.Terminal() {
		s = step(Fail(s, fmt.Sprintf("run stopped in %s", s.Status)))
	}

	res := toResult(s, started)
	e.remember(ctx, threadID, res, log)
	if err := e.runs.SaveRun(context.WithoutCancel(ctx), res); err != nil {
		log.Warn("saving run failed", zap.Error(err))
	}
	log.Info("task finished",
		zap.String("status", string(res.WorkflowStatus)),
		zap.Int("agents", len(res.SpawnedAgents)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", res.CompletedAt.Sub(res.StartedAt)))
	return res
}

// Run is ProcessTask without a thread.
func (e *Engine) Run(ctx context.Context, text string) *Result {
	return e.ProcessTask(ctx, text, "")
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := e.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Debug("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// uniqueIDs wraps the generator so IDs never repeat within one run. A
// generator that keeps colliding gets a run-local counter suffix.
func (e *Engine) uniqueIDs() func(registry.AgentType) string {
	seen := make(map[string]bool)
	return func(t registry.AgentType) string {
		var id string
		for range maxIDAttempts {
			id = e.newID(t)
			if !seen[id] {
				seen[id] = true
				return id
			}
		}
		for n := 2; ; n++ {
			candidate := id + "_" + strconv.Itoa(n)
			if !seen[candidate] {
				seen[candidate] = true
				return candidate
			}
		}
	}
}

func (e *Engine) recall(ctx context.Context, threadID, text string, log *zap.Logger) string {
	if e.memory == nil || threadID == "" {
		return ""
	}
	entries, err := e.memory.Recall(ctx, threadID, text, e.cfg.HistoryLimit)
	if err != nil {
		log.Warn("history recall failed, running without it", zap.String("thread_id", threadID), zap.Error(err))
		return ""
	}
	if e.compactor != nil {
		return e.compactor.Compact(ctx, entries)
	}
	return memory.Format(entries, e.cfg.HistoryBudget)
}

func (e *Engine) remember(ctx context.Context, threadID string, res *Result, log *zap.Logger) {
	if e.memory == nil || threadID == "" || !res.Succeeded() {
		return
	}
	now := time.Now()
	err := e.memory.Remember(context.WithoutCancel(ctx), threadID,
		memory.Entry{Role: "user", Content: res.TaskMetadata.RawText, TaskID: res.TaskID, At: res.StartedAt},
		memory.Entry{Role: "assistant", Content: res.FinalResponse, TaskID: res.TaskID, At: now},
	)
	if err != nil {
		log.Warn("history append failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func directInput(text, history string) string {
	if history == "" {
		return text
	}
	return "Previous conversation:\n" + history + "\n\nTask:\n" + text
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return text
}

func toResult(s State, started time.Time) *Result {
	return &Result{
		TaskID:                s.Task.TaskID,
		ThreadID:              s.ThreadID,
		FinalResponse:         s.Final,
		TaskMetadata:          s.Task,
		SpawnedAgents:         append([]SpawnedAgent{}, s.Agents...),
		OrchestratorReasoning: strings.Join(s.Reasoning, "\n"),
		WorkflowStatus:        s.Status,
		Errors:                append([]string{}, s.Errors...),
		StartedAt:             started,
		CompletedAt:           time.Now(),
	}
}
