//go:build e2e

package e2e

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nidhogg/agentspawn/internal/agent"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/nidhogg/agentspawn/internal/provider"
	"github.com/nidhogg/agentspawn/internal/registry"
)

// scriptedProvider answers every request from the system prompt so runs
// are deterministic without a real model.
type scriptedProvider struct{}

func (scriptedProvider) ID() string                            { return "scripted" }
func (scriptedProvider) Name() string                          { return "scripted" }
func (scriptedProvider) HealthCheck(ctx context.Context) error { return nil }

func (scriptedProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	first, _, _ := strings.Cut(req.System, "\n")
	return &provider.ChatResponse{Content: "[" + first + "] handled"}, nil
}

func newPipeline(t *testing.T, sinks ...orchestrator.EventSink) *orchestrator.Engine {
	t.Helper()
	router := provider.NewRouter(testLogger)
	router.Register(scriptedProvider{})
	router.SetDefault("scripted")
	reasoner := provider.NewReasoner(router, provider.Settings{Model: "scripted", MaxRetries: 1}, testLogger)

	templates := registry.New()
	tools := agent.NewToolRegistry()
	agent.RegisterBuiltinTools(tools, agent.BuiltinOptions{Templates: templates})

	return orchestrator.NewEngine(orchestrator.Config{AgentTimeout: 10 * time.Second, MaxConcurrency: 2},
		templates, reasoner, agent.NewFactory(templates, reasoner, tools, testLogger), testLogger,
		orchestrator.WithMemory(testPGStore),
		orchestrator.WithRunStore(testPGStore),
		orchestrator.WithEvents(orchestrator.MultiSink(sinks)),
	)
}

func TestPipeline_ComplexTaskAcrossBackends(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	redisSink, err := orchestrator.NewRedisSink(ctx, testRedisURL, "e2e:pipeline:"+uuid.NewString(), testLogger)
	if err != nil {
		t.Fatalf("redis sink: %v", err)
	}
	defer redisSink.Close()

	engine := newPipeline(t, redisSink, testGraph)
	thread := "e2e:" + uuid.NewString()

	res := engine.ProcessTask(ctx,
		"Research cloud computing trends and generate Python code for a client, with a detailed architecture comparison.",
		thread)
	if !res.Succeeded() {
		t.Fatalf("run failed: %v", res.Errors)
	}
	if len(res.SpawnedAgents) < 3 {
		t.Fatalf("spawned %d agents, want at least 3", len(res.SpawnedAgents))
	}

	stored, err := testPGStore.GetRun(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if stored.WorkflowStatus != orchestrator.StatusComplete {
		t.Errorf("stored status = %s", stored.WorkflowStatus)
	}

	history, err := testPGStore.Recall(ctx, thread, "", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Content != res.FinalResponse {
		t.Errorf("history = %+v", history)
	}

	events, err := redisSink.Recent(ctx, 100, res.TaskID)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) == 0 || events[0].Type != orchestrator.EventTaskCompleted {
		t.Errorf("newest event = %+v, want task.completed", events)
	}

	spawned, err := testGraph.Spawned(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(spawned) != len(res.SpawnedAgents) {
		t.Errorf("lineage has %d agents, run has %d", len(spawned), len(res.SpawnedAgents))
	}
}

func TestPipeline_FollowUpSeesHistory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	engine := newPipeline(t)
	thread := "e2e:" + uuid.NewString()

	first := engine.ProcessTask(ctx, "What is a binary tree?", thread)
	if !first.Succeeded() || len(first.SpawnedAgents) != 0 {
		t.Fatalf("first run: status=%s agents=%d", first.WorkflowStatus, len(first.SpawnedAgents))
	}
	second := engine.ProcessTask(ctx, "And a B-tree?", thread)
	if !second.Succeeded() {
		t.Fatalf("second run failed: %v", second.Errors)
	}

	history, err := testPGStore.Recall(ctx, thread, "", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("history has %d entries, want 4", len(history))
	}
}
