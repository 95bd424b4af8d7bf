package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/agentspawn/internal/agent"
	"github.com/nidhogg/agentspawn/internal/memory"
	"github.com/nidhogg/agentspawn/internal/registry"
	"go.uber.org/zap"
)

const (
	simpleTask   = "What is a binary tree?"
	moderateTask = "Analyze this quarter's sales data and summarize trends."
	complexTask  = "Research cloud computing trends and generate Python code for a client, with a detailed architecture comparison."
)

type fakeReasoner struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  []string
}

func (f *fakeReasoner) Invoke(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, system+"\n"+user)
	return f.answer, f.err
}

type behaviour struct {
	out   string
	err   error
	delay time.Duration
	stuck bool // ignores cancellation
}

type fakeSpecialist struct {
	t registry.AgentType
	b behaviour
}

func (s fakeSpecialist) Type() registry.AgentType { return s.t }

func (s fakeSpecialist) Execute(ctx context.Context, _ string, _ agent.TaskContext) (string, error) {
	if s.b.stuck {
		time.Sleep(s.b.delay)
		return "late", nil
	}
	if s.b.delay > 0 {
		select {
		case <-time.After(s.b.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.b.out, s.b.err
}

type fakeFactory struct {
	behaviours map[registry.AgentType]behaviour
	started    atomic.Int32
}

func (f *fakeFactory) New(t registry.AgentType) (agent.Specialist, error) {
	f.started.Add(1)
	b, ok := f.behaviours[t]
	if !ok {
		b = behaviour{out: string(t) + " result"}
	}
	return fakeSpecialist{t: t, b: b}, nil
}

func newTestEngine(r Reasoner, f SpecialistFactory, cfg Config, opts ...Option) *Engine {
	return newTestEngineWith(registry.New(), r, f, cfg, opts...)
}

func newTestEngineWith(reg *registry.Registry, r Reasoner, f SpecialistFactory, cfg Config, opts ...Option) *Engine {
	e := NewEngine(cfg, reg, r, f, zap.NewNop(), opts...)
	e.scheduler.retryDelay = time.Millisecond
	return e
}

func agentTypes(res *Result) []registry.AgentType {
	var out []registry.AgentType
	for _, a := range res.SpawnedAgents {
		out = append(out, a.AgentType)
	}
	return out
}

func TestProcessTask_SimpleUsesDirectReasoning(t *testing.T) {
	r := &fakeReasoner{answer: "A tree where each node has at most two children."}
	f := &fakeFactory{}
	res := newTestEngine(r, f, Config{}).ProcessTask(context.Background(), simpleTask, "")

	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s errors=%v", res.WorkflowStatus, res.Errors)
	}
	if len(res.SpawnedAgents) != 0 || f.started.Load() != 0 {
		t.Fatalf("no specialists expected, got %v", res.SpawnedAgents)
	}
	if res.FinalResponse != r.answer {
		t.Fatalf("final = %q", res.FinalResponse)
	}
	if res.TaskMetadata.RequiresMultipleAgents || res.TaskID == "" {
		t.Fatalf("metadata = %+v", res.TaskMetadata)
	}
	if len(r.calls) != 1 {
		t.Fatalf("expected one reasoning call, got %d", len(r.calls))
	}
}

func TestProcessTask_ModerateSpawnsAnalyst(t *testing.T) {
	r := &fakeReasoner{answer: "synthesized"}
	res := newTestEngine(r, &fakeFactory{}, Config{}).ProcessTask(context.Background(), moderateTask, "")

	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s errors=%v", res.WorkflowStatus, res.Errors)
	}
	got := agentTypes(res)
	if len(got) != 1 || got[0] != registry.DataAnalyst {
		t.Fatalf("agents = %v", got)
	}
	a := res.SpawnedAgents[0]
	if a.Status != AgentCompleted || a.Result != "data_analyst result" || !strings.HasPrefix(a.AgentID, "data_analyst_") {
		t.Fatalf("agent = %+v", a)
	}
	if res.FinalResponse != "synthesized" {
		t.Fatalf("final = %q", res.FinalResponse)
	}
}

func TestProcessTask_ComplexPartialFailure(t *testing.T) {
	f := &fakeFactory{behaviours: map[registry.AgentType]behaviour{
		registry.Researcher: {err: errors.New("search quota exceeded")},
	}}
	r := &fakeReasoner{answer: "combined"}
	res := newTestEngine(r, f, Config{MaxConcurrency: 3}).ProcessTask(context.Background(), complexTask, "")

	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s errors=%v", res.WorkflowStatus, res.Errors)
	}
	want := []registry.AgentType{registry.DataAnalyst, registry.Researcher, registry.CodeGenerator}
	got := agentTypes(res)
	if len(got) != len(want) {
		t.Fatalf("agents = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("agents = %v, want %v", got, want)
		}
	}
	if res.SpawnedAgents[1].Status != AgentFailed || res.SpawnedAgents[1].Error == "" {
		t.Fatalf("researcher = %+v", res.SpawnedAgents[1])
	}
	if len(res.Errors) == 0 {
		t.Fatal("partial failure must be reported")
	}
	if !res.TaskMetadata.RequiresMultipleAgents {
		t.Fatal("complex run should require multiple agents")
	}
	ids := map[string]bool{}
	for _, a := range res.SpawnedAgents {
		if ids[a.AgentID] {
			t.Fatalf("duplicate agent id %s", a.AgentID)
		}
		ids[a.AgentID] = true
	}
	if !strings.Contains(r.calls[0], "data_analyst result") || strings.Contains(r.calls[0], "search quota") {
		t.Fatalf("synthesis input should hold only completed results:\n%s", r.calls[0])
	}
}

func TestProcessTask_AllSpecialistsFail(t *testing.T) {
	f := &fakeFactory{behaviours: map[registry.AgentType]behaviour{
		registry.DataAnalyst: {err: errors.New("down")},
	}}
	r := &fakeReasoner{answer: "unused"}
	res := newTestEngine(r, f, Config{}).ProcessTask(context.Background(), moderateTask, "")

	if res.WorkflowStatus != StatusFailed {
		t.Fatalf("status = %s", res.WorkflowStatus)
	}
	if len(res.Errors) == 0 || !strings.HasPrefix(res.FinalResponse, "Task failed") {
		t.Fatalf("errors=%v final=%q", res.Errors, res.FinalResponse)
	}
	if len(r.calls) != 0 {
		t.Fatal("aggregation must not run without output")
	}
}

func TestProcessTask_SynthesisFallsBackToConcatenation(t *testing.T) {
	r := &fakeReasoner{err: errors.New("reasoning down")}
	res := newTestEngine(r, &fakeFactory{}, Config{}).ProcessTask(context.Background(), complexTask, "")

	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s", res.WorkflowStatus)
	}
	for _, part := range []string{"## data_analyst", "## researcher", "## code_generator", "---"} {
		if !strings.Contains(res.FinalResponse, part) {
			t.Errorf("fallback missing %q:\n%s", part, res.FinalResponse)
		}
	}
	if i, j := strings.Index(res.FinalResponse, "## data_analyst"), strings.Index(res.FinalResponse, "## code_generator"); i > j {
		t.Error("fallback must keep decision order")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestProcessTask_DirectReasoningFailure(t *testing.T) {
	r := &fakeReasoner{err: errors.New("provider unavailable")}
	res := newTestEngine(r, &fakeFactory{}, Config{}).ProcessTask(context.Background(), simpleTask, "")
	if res.WorkflowStatus != StatusFailed || len(res.Errors) < 2 {
		t.Fatalf("status=%s errors=%v", res.WorkflowStatus, res.Errors)
	}
}

func TestProcessTask_AgentTimeout(t *testing.T) {
	f := &fakeFactory{behaviours: map[registry.AgentType]behaviour{
		registry.Researcher: {delay: time.Second, stuck: true},
	}}
	r := &fakeReasoner{answer: "ok"}
	start := time.Now()
	res := newTestEngine(r, f, Config{AgentTimeout: 50 * time.Millisecond}).ProcessTask(context.Background(), complexTask, "")

	if elapsed := time.Since(start); elapsed > 700*time.Millisecond {
		t.Fatalf("stuck specialist blocked the run for %s", elapsed)
	}
	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s", res.WorkflowStatus)
	}
	if a := res.SpawnedAgents[1]; a.Status != AgentFailed || !strings.Contains(a.Error, "timed out") {
		t.Fatalf("researcher = %+v", a)
	}
}

func TestProcessTask_CancelledRunTerminates(t *testing.T) {
	f := &fakeFactory{behaviours: map[registry.AgentType]behaviour{
		registry.DataAnalyst:   {delay: time.Second},
		registry.Researcher:    {delay: time.Second},
		registry.CodeGenerator: {delay: time.Second},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	res := newTestEngine(&fakeReasoner{answer: "x"}, f, Config{MaxConcurrency: 1}).ProcessTask(ctx, complexTask, "")
	if !res.WorkflowStatus.Terminal() {
		t.Fatalf("status = %s", res.WorkflowStatus)
	}
	if res.WorkflowStatus != StatusFailed {
		t.Fatalf("all agents cancelled, expected failed, got %s", res.WorkflowStatus)
	}
	if n := f.started.Load(); n != 1 {
		t.Fatalf("expected only the first agent to start, started %d", n)
	}
	for _, a := range res.SpawnedAgents {
		if a.Status != AgentFailed {
			t.Fatalf("agent = %+v", a)
		}
	}
}

type extraTemplates struct {
	*registry.Registry
}

func (e extraTemplates) Triggers() map[registry.AgentType][]string {
	m := e.Registry.Triggers()
	m["astrologer"] = []string{"horoscope"}
	return m
}

func TestProcessTask_UnknownAgentDropped(t *testing.T) {
	e := NewEngine(Config{}, extraTemplates{registry.New()}, &fakeReasoner{answer: "ok"}, &fakeFactory{}, zap.NewNop())
	res := e.ProcessTask(context.Background(), "Analyze the horoscope data for this month", "")

	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s errors=%v", res.WorkflowStatus, res.Errors)
	}
	for _, a := range res.SpawnedAgents {
		if a.AgentType == "astrologer" {
			t.Fatal("unregistered type was spawned")
		}
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "astrologer") {
			found = true
		}
	}
	if !found {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestProcessTask_ThreadMemory(t *testing.T) {
	mem := memory.NewBuffer(10)
	r := &fakeReasoner{answer: "first answer"}
	e := newTestEngine(r, &fakeFactory{}, Config{}, WithMemory(mem))

	e.ProcessTask(context.Background(), simpleTask, "thread-1")
	e.ProcessTask(context.Background(), "What is a heap?", "thread-1")

	if !strings.Contains(r.calls[1], "Previous conversation") || !strings.Contains(r.calls[1], "first answer") {
		t.Fatalf("second run did not see history:\n%s", r.calls[1])
	}
	entries, _ := mem.Recall(context.Background(), "thread-1", "", 0)
	if len(entries) != 4 {
		t.Fatalf("entries = %+v", entries)
	}
	// No thread means a stateless run.
	e.ProcessTask(context.Background(), "What is a stack?", "")
	if strings.Contains(r.calls[2], "Previous conversation") {
		t.Fatal("threadless run must not see history")
	}
}

func TestProcessTask_CompactsLongHistory(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewBuffer(50)
	for i := 0; i < 8; i++ {
		mem.Remember(ctx, "thread-1", memory.Entry{Role: "user", Content: strings.Repeat("old turn ", 20)})
	}
	r := &fakeReasoner{answer: "condensed"}
	budget := memory.Budget{MaxTokens: 60, MaxEntries: 20}
	e := newTestEngine(r, &fakeFactory{}, Config{HistoryBudget: budget},
		WithMemory(mem), WithCompactor(memory.NewCompactor(r, budget, zap.NewNop())))

	e.ProcessTask(ctx, simpleTask, "thread-1")
	if len(r.calls) != 2 {
		t.Fatalf("calls = %d, want summary then answer", len(r.calls))
	}
	if !strings.Contains(r.calls[1], "summary: condensed") {
		t.Fatalf("answer prompt missing summary:\n%s", r.calls[1])
	}
}

type failingMemory struct{}

func (failingMemory) Recall(context.Context, string, string, int) ([]memory.Entry, error) {
	return nil, errors.New("store down")
}
func (failingMemory) Remember(context.Context, string, ...memory.Entry) error {
	return errors.New("store down")
}

func TestProcessTask_MemoryFailureDegrades(t *testing.T) {
	e := newTestEngine(&fakeReasoner{answer: "ok"}, &fakeFactory{}, Config{}, WithMemory(failingMemory{}))
	res := e.ProcessTask(context.Background(), simpleTask, "thread-1")
	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s", res.WorkflowStatus)
	}
}

func TestProcessTask_EventsAndRunStore(t *testing.T) {
	rec := NewRecorder(100)
	e := newTestEngine(&fakeReasoner{answer: "ok"}, &fakeFactory{}, Config{}, WithEvents(rec))
	res := e.ProcessTask(context.Background(), moderateTask, "")

	evs, _ := rec.Recent(context.Background(), 0, res.TaskID)
	if len(evs) == 0 {
		t.Fatal("no events recorded")
	}
	if evs[0].Type != EventTaskCompleted || evs[len(evs)-1].Type != EventTaskReceived {
		t.Fatalf("unexpected event order: first=%s last=%s", evs[0].Type, evs[len(evs)-1].Type)
	}
	seen := map[EventType]bool{}
	for _, ev := range evs {
		seen[ev.Type] = true
	}
	for _, want := range []EventType{EventTaskClassified, EventAgentSpawned, EventAgentRunning, EventAgentCompleted} {
		if !seen[want] {
			t.Errorf("missing event %s", want)
		}
	}

	stored, err := e.Runs().GetRun(context.Background(), res.TaskID)
	if err != nil || stored.TaskID != res.TaskID {
		t.Fatalf("stored run: %v", err)
	}
	if _, err := e.Runs().GetRun(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestProcessTask_IDGeneratorCollisionsRegenerated(t *testing.T) {
	calls := 0
	gen := func(t registry.AgentType) string {
		calls++
		if calls <= 2 {
			return "same"
		}
		return string(t) + "_unique"
	}
	res := newTestEngine(&fakeReasoner{answer: "ok"}, &fakeFactory{}, Config{}, WithIDGenerator(gen)).
		ProcessTask(context.Background(), complexTask, "")
	ids := map[string]bool{}
	for _, a := range res.SpawnedAgents {
		if ids[a.AgentID] {
			t.Fatalf("duplicate id %s", a.AgentID)
		}
		ids[a.AgentID] = true
	}
}

func TestProcessTask_ConstantIDGeneratorTerminates(t *testing.T) {
	gen := func(registry.AgentType) string { return "fixed" }
	e := newTestEngine(&fakeReasoner{answer: "ok"}, &fakeFactory{}, Config{}, WithIDGenerator(gen))

	done := make(chan *Result, 1)
	go func() { done <- e.ProcessTask(context.Background(), complexTask, "") }()
	var res *Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessTask did not return with a constant ID generator")
	}
	if res.WorkflowStatus != StatusComplete {
		t.Fatalf("status = %s", res.WorkflowStatus)
	}
	ids := map[string]bool{}
	for _, a := range res.SpawnedAgents {
		if ids[a.AgentID] {
			t.Fatalf("duplicate id %s", a.AgentID)
		}
		ids[a.AgentID] = true
	}
	if len(ids) != 3 || !ids["fixed"] || !ids["fixed_2"] || !ids["fixed_3"] {
		t.Fatalf("ids = %v", ids)
	}
}

// flakyFactory builds specialists that fail their first failures calls.
type flakyFactory struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyFactory) New(t registry.AgentType) (agent.Specialist, error) {
	return flakySpecialist{t: t, f: f}, nil
}

type flakySpecialist struct {
	t registry.AgentType
	f *flakyFactory
}

func (s flakySpecialist) Type() registry.AgentType { return s.t }

func (s flakySpecialist) Execute(context.Context, string, agent.TaskContext) (string, error) {
	if s.f.calls.Add(1) <= s.f.failures {
		return "", errors.New("transient upstream error")
	}
	return string(s.t) + " result", nil
}

func TestProcessTask_TemplateRetries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		failures   int32
		wantStatus WorkflowStatus
		wantCalls  int32
	}{
		{"recovers within retries", 2, 2, StatusComplete, 3},
		{"retries exhausted", 1, 5, StatusFailed, 2},
		{"no retries configured", 0, 1, StatusFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			tmpl, err := reg.Get(registry.DataAnalyst)
			if err != nil {
				t.Fatal(err)
			}
			tmpl.MaxRetries = tt.maxRetries
			if err := reg.Register(tmpl); err != nil {
				t.Fatal(err)
			}
			f := &flakyFactory{failures: tt.failures}
			res := newTestEngineWith(reg, &fakeReasoner{answer: "ok"}, f, Config{}).
				ProcessTask(context.Background(), moderateTask, "")

			if res.WorkflowStatus != tt.wantStatus {
				t.Fatalf("status = %s errors=%v", res.WorkflowStatus, res.Errors)
			}
			if got := f.calls.Load(); got != tt.wantCalls {
				t.Fatalf("Execute calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestProcessTask_ConcurrentRuns(t *testing.T) {
	e := newTestEngine(&fakeReasoner{answer: "ok"}, &fakeFactory{}, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := e.ProcessTask(context.Background(), complexTask, ""); res.WorkflowStatus != StatusComplete {
				t.Errorf("status = %s", res.WorkflowStatus)
			}
		}()
	}
	wg.Wait()
}
