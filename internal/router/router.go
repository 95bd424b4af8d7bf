package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/agentspawn/internal/command"
	"github.com/nidhogg/agentspawn/internal/gateway"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"go.uber.org/zap"
)

// TaskRunner runs one task. *orchestrator.Engine satisfies it.
type TaskRunner interface {
	ProcessTask(ctx context.Context, text, threadID string) *orchestrator.Result
}

// Sender delivers replies. *gateway.Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter turns chat messages into tasks and sends the answers back
// to the channel they came from.
type MessageRouter struct {
	runner   TaskRunner
	out      Sender
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a MessageRouter. commands may be nil. timeout bounds one
// task; zero means no bound.
func New(runner TaskRunner, out Sender, commands *command.Registry, timeout time.Duration, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		runner:   runner,
		out:      out,
		commands: commands,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle routes an inbound message. Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := context.Background()
	if mr.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mr.timeout)
		defer cancel()
	}
	threadID := msg.ThreadID()
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
		zap.String("thread_id", threadID),
	)

	if mr.commands != nil && command.IsCommand(msg.Content) {
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
			ThreadID:  threadID,
		}
		result, err := mr.commands.Dispatch(ctx, msg.Content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.sendReply(ctx, msg, "Command error: "+err.Error())
			return
		}
		mr.sendReply(ctx, msg, result.Content)
		return
	}

	res := mr.runner.ProcessTask(ctx, msg.Content, threadID)
	mr.sendReply(ctx, msg, FormatResult(res))
}

// FormatResult renders a run for chat display.
func FormatResult(res *orchestrator.Result) string {
	if !res.Succeeded() {
		reason := "unknown error"
		if n := len(res.Errors); n > 0 {
			reason = res.Errors[n-1]
		}
		return fmt.Sprintf("Sorry, I could not complete that task: %s\n(task %s)", reason, res.TaskID)
	}
	var b strings.Builder
	b.WriteString(res.FinalResponse)
	if len(res.SpawnedAgents) > 0 {
		var done, failed []string
		for _, a := range res.SpawnedAgents {
			if a.Status == orchestrator.AgentCompleted {
				done = append(done, string(a.AgentType))
			} else {
				failed = append(failed, string(a.AgentType))
			}
		}
		fmt.Fprintf(&b, "\n\n_agents: %s", strings.Join(done, ", "))
		if len(failed) > 0 {
			fmt.Fprintf(&b, "; failed: %s", strings.Join(failed, ", "))
		}
		b.WriteString("_")
	}
	return b.String()
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	err := mr.out.Send(context.WithoutCancel(ctx), &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
