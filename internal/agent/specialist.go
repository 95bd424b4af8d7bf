package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/agentspawn/internal/provider"
	"github.com/nidhogg/agentspawn/internal/registry"
	"go.uber.org/zap"
)

const maxToolRounds = 5

// ErrEmptyResponse is returned when a specialist produced no text.
var ErrEmptyResponse = errors.New("specialist returned an empty response")

// TaskContext is what a specialist knows about the run besides the task text.
type TaskContext struct {
	TaskID     string
	AgentID    string
	Complexity string
	Keywords   []string
	History    string
}

// Specialist performs one delegated unit of work.
type Specialist interface {
	Type() registry.AgentType
	Execute(ctx context.Context, taskText string, tc TaskContext) (string, error)
}

// Completer is the model access a specialist needs. *provider.Reasoner
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, route string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// LLMSpecialist runs a template's prompt against a model, resolving tool
// calls for up to maxToolRounds rounds.
type LLMSpecialist struct {
	tmpl   registry.Template
	llm    Completer
	tools  *ToolRegistry
	logger *zap.Logger
}

// NewSpecialist builds a specialist for tmpl. tools may be nil.
func NewSpecialist(tmpl registry.Template, llm Completer, tools *ToolRegistry, logger *zap.Logger) *LLMSpecialist {
	return &LLMSpecialist{tmpl: tmpl, llm: llm, tools: tools, logger: logger}
}

func (s *LLMSpecialist) Type() registry.AgentType { return s.tmpl.Type }

// Execute runs the tool loop and returns the final answer. Tool errors are
// handed back to the model; a provider error or an exhausted loop fails the
// whole execution.
func (s *LLMSpecialist) Execute(ctx context.Context, taskText string, tc TaskContext) (string, error) {
	req := &provider.ChatRequest{
		System:   s.tmpl.SystemPrompt,
		Messages: []provider.Message{{Role: provider.RoleUser, Content: buildUserMessage(taskText, tc)}},
	}
	if s.tools != nil && len(s.tmpl.Tools) > 0 {
		req.Tools = s.tools.Definitions(s.tmpl.Tools...)
	}

	route := string(s.tmpl.Type)
	for round := 0; round <= maxToolRounds; round++ {
		resp, err := s.llm.Complete(ctx, route, req)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			if strings.TrimSpace(resp.Content) == "" {
				return "", ErrEmptyResponse
			}
			return resp.Content, nil
		}
		if round == maxToolRounds {
			break
		}

		req.Messages = append(req.Messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			req.Messages = append(req.Messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    s.runTool(ctx, tc.AgentID, call),
				ToolCallID: call.ID,
			})
		}
	}
	return "", fmt.Errorf("%s: no final answer after %d tool rounds", s.tmpl.Type, maxToolRounds)
}

func (s *LLMSpecialist) runTool(ctx context.Context, agentID string, call provider.ToolCall) string {
	if s.tools == nil {
		return fmt.Sprintf(`{"error":%q}`, "no tools available")
	}
	out, err := s.tools.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		s.logger.Warn("tool call failed",
			zap.String("agent_id", agentID), zap.String("tool", call.Name), zap.Error(err))
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	s.logger.Debug("tool call", zap.String("agent_id", agentID), zap.String("tool", call.Name))
	return out
}

func buildUserMessage(taskText string, tc TaskContext) string {
	var b strings.Builder
	if tc.History != "" {
		b.WriteString("Previous conversation:\n")
		b.WriteString(tc.History)
		b.WriteString("\n\n")
	}
	b.WriteString("Task:\n")
	b.WriteString(taskText)
	if tc.Complexity != "" {
		fmt.Fprintf(&b, "\n\nAssessed complexity: %s", tc.Complexity)
	}
	if len(tc.Keywords) > 0 {
		fmt.Fprintf(&b, "\nKey terms: %s", strings.Join(tc.Keywords, ", "))
	}
	return b.String()
}

// Factory builds specialists from registry templates.
type Factory struct {
	templates *registry.Registry
	llm       Completer
	tools     *ToolRegistry
	logger    *zap.Logger
}

// NewFactory creates a Factory.
func NewFactory(templates *registry.Registry, llm Completer, tools *ToolRegistry, logger *zap.Logger) *Factory {
	return &Factory{templates: templates, llm: llm, tools: tools, logger: logger}
}

// New returns a specialist for agentType, or registry.ErrNotFound.
func (f *Factory) New(agentType registry.AgentType) (Specialist, error) {
	tmpl, err := f.templates.Get(agentType)
	if err != nil {
		return nil, err
	}
	return NewSpecialist(tmpl, f.llm, f.tools, f.logger), nil
}
