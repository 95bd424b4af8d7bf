//go:build e2e

package e2e

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nidhogg/agentspawn/internal/classifier"
	"github.com/nidhogg/agentspawn/internal/memory"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/nidhogg/agentspawn/internal/registry"
)

func TestPostgres_ThreadHistory(t *testing.T) {
	ctx := context.Background()
	thread := "e2e:" + uuid.NewString()
	base := time.Now().Add(-time.Minute)

	for i, content := range []string{"q1", "a1", "q2", "a2"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := testPGStore.Remember(ctx, thread, memory.Entry{
			Role: role, Content: content, At: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("remember %s: %v", content, err)
		}
	}

	got, err := testPGStore.Recall(ctx, thread, "", 3)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 3 || got[0].Content != "a1" || got[2].Content != "a2" {
		t.Errorf("recall = %+v, want newest three oldest first", got)
	}

	empty, err := testPGStore.Recall(ctx, "e2e:nobody", "", 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("unknown thread: got %v, %v", empty, err)
	}
}

func TestPostgres_Runs(t *testing.T) {
	ctx := context.Background()
	res := &orchestrator.Result{
		TaskID:         uuid.NewString(),
		ThreadID:       "e2e:runs",
		FinalResponse:  "done",
		WorkflowStatus: orchestrator.StatusComplete,
		TaskMetadata:   orchestrator.TaskMetadata{Complexity: classifier.Moderate, Keywords: []string{"analyze"}},
		SpawnedAgents: []orchestrator.SpawnedAgent{
			{AgentType: registry.DataAnalyst, AgentID: "data_analyst_1", Status: orchestrator.AgentCompleted, Result: "ok"},
		},
		StartedAt:   time.Now().Add(-time.Second),
		CompletedAt: time.Now(),
	}
	if err := testPGStore.SaveRun(ctx, res); err != nil {
		t.Fatalf("save run: %v", err)
	}

	got, err := testPGStore.GetRun(ctx, res.TaskID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.FinalResponse != "done" || len(got.SpawnedAgents) != 1 || got.SpawnedAgents[0].AgentID != "data_analyst_1" {
		t.Errorf("round trip lost data: %+v", got)
	}

	ids, err := testPGStore.ThreadRuns(ctx, "e2e:runs")
	if err != nil || len(ids) == 0 {
		t.Errorf("thread runs = %v, %v", ids, err)
	}

	if _, err := testPGStore.GetRun(ctx, uuid.NewString()); !errors.Is(err, orchestrator.ErrRunNotFound) {
		t.Errorf("missing run: got %v, want ErrRunNotFound", err)
	}
}

func TestPostgres_Templates(t *testing.T) {
	ctx := context.Background()
	tmpl := registry.Template{
		Type:         "translator",
		Name:         "Translator",
		SystemPrompt: "Translate faithfully.",
		Capabilities: []string{"translation"},
		Triggers:     []string{"translate"},
	}
	if err := testPGStore.SaveTemplate(ctx, tmpl); err != nil {
		t.Fatalf("save template: %v", err)
	}

	reg := registry.NewEmpty()
	n, err := testPGStore.LoadTemplates(ctx, reg)
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	if n < 1 || !reg.Has("translator") {
		t.Errorf("loaded %d templates, translator present=%v", n, reg.Has("translator"))
	}
}

func TestRedis_EventStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sink, err := orchestrator.NewRedisSink(ctx, testRedisURL, "e2e:events:"+uuid.NewString(), testLogger)
	if err != nil {
		t.Fatalf("redis sink: %v", err)
	}
	defer sink.Close()

	sub := sink.Subscribe(ctx)
	// XREAD with $ only sees entries added after the read is issued.
	time.Sleep(300 * time.Millisecond)

	for _, task := range []string{"a", "b", "a"} {
		ev := orchestrator.Event{ID: uuid.NewString(), Type: orchestrator.EventTaskReceived, TaskID: task, At: time.Now().UTC()}
		if err := sink.Publish(ctx, ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	recent, err := sink.Recent(ctx, 10, "a")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent for task a = %d, want 2", len(recent))
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub:
			if ev.Type != orchestrator.EventTaskReceived {
				t.Errorf("unexpected event %+v", ev)
			}
		case <-ctx.Done():
			t.Fatalf("subscription delivered %d of 3 events", i)
		}
	}
}

func TestNeo4j_Lineage(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.NewString()
	now := time.Now().UTC()
	events := []orchestrator.Event{
		{Type: orchestrator.EventTaskReceived, TaskID: taskID, Detail: "research and code"},
		{Type: orchestrator.EventAgentSpawned, TaskID: taskID, AgentType: registry.Researcher, AgentID: "researcher_1"},
		{Type: orchestrator.EventAgentSpawned, TaskID: taskID, AgentType: registry.CodeGenerator, AgentID: "code_generator_1"},
		{Type: orchestrator.EventAgentCompleted, TaskID: taskID, AgentType: registry.Researcher, AgentID: "researcher_1", Status: "completed"},
		{Type: orchestrator.EventAgentFailed, TaskID: taskID, AgentType: registry.CodeGenerator, AgentID: "code_generator_1", Status: "failed"},
		{Type: orchestrator.EventTaskCompleted, TaskID: taskID, Status: "complete"},
	}
	for i, ev := range events {
		ev.At = now.Add(time.Duration(i) * time.Millisecond)
		if err := testGraph.Publish(ctx, ev); err != nil {
			t.Fatalf("publish %s: %v", ev.Type, err)
		}
	}

	spawned, err := testGraph.Spawned(ctx, taskID)
	if err != nil {
		t.Fatalf("spawned: %v", err)
	}
	if len(spawned) != 2 || spawned[0].AgentID != "researcher_1" || spawned[1].Status != "failed" {
		t.Errorf("spawned = %+v", spawned)
	}

	stats, err := testGraph.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	byType := make(map[string]int64)
	for _, s := range stats {
		byType[s.AgentType+"/completed"] = s.Completed
		byType[s.AgentType+"/failed"] = s.Failed
	}
	if byType["researcher/completed"] < 1 || byType["code_generator/failed"] < 1 {
		t.Errorf("stats = %+v", stats)
	}
}
