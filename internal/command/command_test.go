package command

import (
	"context"
	"strings"
	"testing"

	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/nidhogg/agentspawn/internal/registry"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content == "" {
		t.Error("expected error message for unknown command")
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input, name, args string
	}{
		{"/help", "help", ""},
		{"  /Run  abc-123 ", "run", "abc-123"},
		{"/assess write a parser", "assess", "write a parser"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, args := Parse(tt.input)
			if name != tt.name || args != tt.args {
				t.Errorf("got (%q, %q), want (%q, %q)", name, args, tt.name, tt.args)
			}
		})
	}
	if IsCommand("what is /etc?") {
		t.Error("text not starting with / is not a command")
	}
}

type staticAgents []registry.Template

func (s staticAgents) List() []registry.Template { return s }

type staticRuns map[string]*orchestrator.Result

func (s staticRuns) GetRun(_ context.Context, id string) (*orchestrator.Result, error) {
	if r, ok := s[id]; ok {
		return r, nil
	}
	return nil, orchestrator.ErrRunNotFound
}

func TestBuiltins(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Deps{
		Agents: staticAgents{{Type: registry.Researcher, Name: "Researcher", Capabilities: []string{"research"}}},
		Runs: staticRuns{"t1": {
			TaskID:         "t1",
			WorkflowStatus: orchestrator.StatusComplete,
			SpawnedAgents: []orchestrator.SpawnedAgent{
				{AgentID: "researcher_1", Status: orchestrator.AgentFailed, Error: "timed out"},
			},
		}},
	})

	tests := []struct {
		input string
		want  string
	}{
		{"/help", "/agents"},
		{"/agents", "[researcher] Researcher: research"},
		{"/assess What is a binary tree?", "Complexity: simple"},
		{"/run t1", "researcher_1 failed: timed out"},
		{"/run nope", "run not found"},
		{"/tools", "Unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res, err := reg.Dispatch(context.Background(), tt.input, &CommandContext{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(res.Content, tt.want) {
				t.Errorf("got %q, want it to contain %q", res.Content, tt.want)
			}
		})
	}
}
