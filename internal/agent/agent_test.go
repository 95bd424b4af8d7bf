package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nidhogg/agentspawn/internal/provider"
	"github.com/nidhogg/agentspawn/internal/registry"
	"go.uber.org/zap"
)

// scriptedLLM replays responses in order and records the requests it saw.
type scriptedLLM struct {
	responses []*provider.ChatResponse
	err       error
	requests  []provider.ChatRequest
	routes    []string
}

func (s *scriptedLLM) Complete(ctx context.Context, route string, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.routes = append(s.routes, route)
	snapshot := *req
	snapshot.Messages = append([]provider.Message(nil), req.Messages...)
	s.requests = append(s.requests, snapshot)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &provider.ChatResponse{Content: "done"}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func analystTemplate(t *testing.T) registry.Template {
	t.Helper()
	tmpl, err := registry.New().Get(registry.DataAnalyst)
	if err != nil {
		t.Fatal(err)
	}
	return tmpl
}

func TestSpecialist_DirectAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []*provider.ChatResponse{{Content: "sales rose 12%"}}}
	s := NewSpecialist(analystTemplate(t), llm, nil, zap.NewNop())

	out, err := s.Execute(context.Background(), "Analyze sales", TaskContext{
		AgentID: "data_analyst_1", Complexity: "moderate", Keywords: []string{"analyze", "sales"},
		History: "user: hi",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "sales rose 12%" {
		t.Fatalf("out = %q", out)
	}
	if llm.routes[0] != "data_analyst" {
		t.Fatalf("route = %q", llm.routes[0])
	}
	msg := llm.requests[0].Messages[0].Content
	for _, want := range []string{"Previous conversation", "Analyze sales", "moderate", "analyze, sales"} {
		if !strings.Contains(msg, want) {
			t.Errorf("user message missing %q:\n%s", want, msg)
		}
	}
	if llm.requests[0].System == "" {
		t.Error("system prompt not set")
	}
}

func TestSpecialist_ToolLoop(t *testing.T) {
	tools := NewToolRegistry()
	RegisterBuiltinTools(tools, BuiltinOptions{})

	tmpl := analystTemplate(t)
	tmpl.Tools = []string{"current_time"}
	llm := &scriptedLLM{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "current_time", Arguments: json.RawMessage(`{}`)}}},
		{Content: "it is now"},
	}}
	s := NewSpecialist(tmpl, llm, tools, zap.NewNop())

	out, err := s.Execute(context.Background(), "what time", TaskContext{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "it is now" {
		t.Fatalf("out = %q", out)
	}
	if len(llm.requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(llm.requests))
	}
	if len(llm.requests[0].Tools) != 1 {
		t.Fatalf("expected 1 tool offered, got %d", len(llm.requests[0].Tools))
	}
	second := llm.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != provider.RoleTool || last.ToolCallID != "c1" || !strings.Contains(last.Content, "time") {
		t.Fatalf("unexpected tool message %+v", last)
	}
	stats := tools.Stats()
	if len(stats) != 1 || stats[0].Calls != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSpecialist_UnknownToolGoesBackToModel(t *testing.T) {
	tools := NewToolRegistry()
	llm := &scriptedLLM{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "web_search"}}},
		{Content: "answered without it"},
	}}
	s := NewSpecialist(analystTemplate(t), llm, tools, zap.NewNop())
	out, err := s.Execute(context.Background(), "x", TaskContext{})
	if err != nil || out != "answered without it" {
		t.Fatalf("got (%q, %v)", out, err)
	}
	msgs := llm.requests[1].Messages
	if !strings.Contains(msgs[len(msgs)-1].Content, "tool not found") {
		t.Fatalf("expected tool error in transcript, got %q", msgs[len(msgs)-1].Content)
	}
}

func TestSpecialist_ToolLoopExhausted(t *testing.T) {
	call := &provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "c", Name: "current_time"}}}
	var script []*provider.ChatResponse
	for i := 0; i <= maxToolRounds; i++ {
		script = append(script, call)
	}
	tools := NewToolRegistry()
	RegisterBuiltinTools(tools, BuiltinOptions{})
	s := NewSpecialist(analystTemplate(t), &scriptedLLM{responses: script}, tools, zap.NewNop())
	if _, err := s.Execute(context.Background(), "x", TaskContext{}); err == nil {
		t.Fatal("expected error when the model never stops calling tools")
	}
}

func TestSpecialist_ProviderError(t *testing.T) {
	boom := errors.New("provider down")
	s := NewSpecialist(analystTemplate(t), &scriptedLLM{err: boom}, nil, zap.NewNop())
	if _, err := s.Execute(context.Background(), "x", TaskContext{}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestSpecialist_EmptyResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []*provider.ChatResponse{{Content: "  "}}}
	s := NewSpecialist(analystTemplate(t), llm, nil, zap.NewNop())
	if _, err := s.Execute(context.Background(), "x", TaskContext{}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory(registry.New(), &scriptedLLM{}, nil, zap.NewNop())
	s, err := f.New(registry.Researcher)
	if err != nil {
		t.Fatal(err)
	}
	if s.Type() != registry.Researcher {
		t.Fatalf("type = %s", s.Type())
	}
	if _, err := f.New("astrologer"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestToolRegistry_UnknownTool(t *testing.T) {
	_, err := NewToolRegistry().Execute(context.Background(), "nope", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestFileSystemTool(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "report.csv"), []byte("month,sales\njan,10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tools := NewToolRegistry()
	RegisterBuiltinTools(tools, BuiltinOptions{FileRoot: root})

	out, err := tools.Execute(context.Background(), "file_system", json.RawMessage(`{"operation":"read","path":"report.csv"}`))
	if err != nil || !strings.Contains(out, "jan,10") {
		t.Fatalf("read: (%q, %v)", out, err)
	}
	out, err = tools.Execute(context.Background(), "file_system", json.RawMessage(`{"operation":"list","path":"."}`))
	if err != nil || !strings.Contains(out, "report.csv") {
		t.Fatalf("list: (%q, %v)", out, err)
	}
	if _, err := tools.Execute(context.Background(), "file_system", json.RawMessage(`{"operation":"read","path":"../secret"}`)); err == nil {
		t.Fatal("expected escape to be rejected")
	}
	stats := tools.Stats()
	for _, s := range stats {
		if s.Name == "file_system" && (s.Calls != 3 || s.Failures != 1) {
			t.Fatalf("file_system stats = %+v", s)
		}
	}
}

func TestAPICallTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":42}`))
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	tools := NewToolRegistry()
	RegisterBuiltinTools(tools, BuiltinOptions{HTTPAllow: []string{u.Host}, HTTPClient: srv.Client()})

	out, err := tools.Execute(context.Background(), "api_call", json.RawMessage(`{"url":"`+srv.URL+`/quote"}`))
	if err != nil || out != `{"price":42}` {
		t.Fatalf("api_call: (%q, %v)", out, err)
	}
	if _, err := tools.Execute(context.Background(), "api_call", json.RawMessage(`{"url":"http://example.invalid/"}`)); err == nil {
		t.Fatal("expected disallowed host to fail")
	}
}

func TestQueryTool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE sales (month TEXT, amount INTEGER)`,
		`INSERT INTO sales VALUES ('jan', 10), ('feb', 15)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	q, err := OpenQueryTool(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer q.Close()
	tools := NewToolRegistry()
	q.Register(tools)

	out, err := tools.Execute(context.Background(), "database_query",
		json.RawMessage(`{"query":"SELECT month, amount FROM sales ORDER BY amount DESC"}`))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rows) != 2 || rows[0]["month"] != "feb" {
		t.Fatalf("rows = %v", rows)
	}

	for _, bad := range []string{"DELETE FROM sales", "SELECT 1; DROP TABLE sales"} {
		args, _ := json.Marshal(map[string]string{"query": bad})
		if _, err := tools.Execute(context.Background(), "database_query", args); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
