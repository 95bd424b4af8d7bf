package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/nidhogg/agentspawn/internal/command"
	"github.com/nidhogg/agentspawn/internal/gateway"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"go.uber.org/zap"
)

type fakeRunner struct {
	res     *orchestrator.Result
	threads []string
	texts   []string
}

func (f *fakeRunner) ProcessTask(_ context.Context, text, threadID string) *orchestrator.Result {
	f.texts = append(f.texts, text)
	f.threads = append(f.threads, threadID)
	return f.res
}

type captureSender struct {
	mu   sync.Mutex
	sent []*gateway.OutboundMessage
}

func (c *captureSender) Send(_ context.Context, msg *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func TestHandle_RunsTaskOnChannelThread(t *testing.T) {
	runner := &fakeRunner{res: &orchestrator.Result{
		TaskID:         "t1",
		FinalResponse:  "A binary tree is...",
		WorkflowStatus: orchestrator.StatusComplete,
	}}
	out := &captureSender{}
	mr := New(runner, out, nil, 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{
		Platform: "slack", ChannelID: "C1", Conversation: "171.1", ReplyTo: "171.1",
		Content: "What is a binary tree?",
	})

	if len(runner.threads) != 1 || runner.threads[0] != "slack:C1:171.1" {
		t.Fatalf("threads = %v", runner.threads)
	}
	if len(out.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(out.sent))
	}
	reply := out.sent[0]
	if reply.Platform != "slack" || reply.ChannelID != "C1" || reply.ReplyTo != "171.1" {
		t.Errorf("reply addressed to %+v", reply)
	}
	if reply.Content != "A binary tree is..." {
		t.Errorf("content = %q", reply.Content)
	}
}

func TestHandle_CommandsBypassEngine(t *testing.T) {
	runner := &fakeRunner{}
	out := &captureSender{}
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.Deps{})
	mr := New(runner, out, reg, 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "c", Content: "/help"})

	if len(runner.texts) != 0 {
		t.Fatalf("engine ran for a command: %v", runner.texts)
	}
	if len(out.sent) != 1 || !strings.Contains(out.sent[0].Content, "Available commands") {
		t.Errorf("unexpected replies: %+v", out.sent)
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		res  *orchestrator.Result
		want []string
	}{
		{
			name: "failed",
			res: &orchestrator.Result{
				TaskID:         "t9",
				WorkflowStatus: orchestrator.StatusFailed,
				Errors:         []string{"researcher: boom", "all specialists failed"},
			},
			want: []string{"all specialists failed", "t9"},
		},
		{
			name: "partial",
			res: &orchestrator.Result{
				FinalResponse:  "combined",
				WorkflowStatus: orchestrator.StatusComplete,
				SpawnedAgents: []orchestrator.SpawnedAgent{
					{AgentType: "researcher", Status: orchestrator.AgentCompleted},
					{AgentType: "code_generator", Status: orchestrator.AgentFailed},
				},
			},
			want: []string{"combined", "_agents: researcher; failed: code_generator_"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatResult(tt.res)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("got %q, missing %q", got, w)
				}
			}
		})
	}
}
