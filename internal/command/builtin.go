package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/agentspawn/internal/agent"
	"github.com/nidhogg/agentspawn/internal/classifier"
	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/nidhogg/agentspawn/internal/registry"
)

// AgentLister lists registered specialist templates.
type AgentLister interface {
	List() []registry.Template
}

// ToolLister reports tool usage.
type ToolLister interface {
	Stats() []agent.ToolStats
}

// ActivityView reports the specialists currently running.
type ActivityView interface {
	Running() []orchestrator.Execution
}

// RunLookup finds a finished run by task ID.
type RunLookup interface {
	GetRun(ctx context.Context, taskID string) (*orchestrator.Result, error)
}

// Deps are the views the built-in commands read. Nil fields disable the
// matching command.
type Deps struct {
	Agents   AgentLister
	Tools    ToolLister
	Activity ActivityView
	Runs     RunLookup
}

// RegisterBuiltins registers /help, /assess and whichever of /agents,
// /tools, /active and /run have their dependency set.
func RegisterBuiltins(reg *Registry, deps Deps) {
	reg.Register(helpCommand(reg))
	reg.Register(assessCommand())
	if deps.Agents != nil {
		reg.Register(agentsCommand(deps.Agents))
	}
	if deps.Tools != nil {
		reg.Register(toolsCommand(deps.Tools))
	}
	if deps.Activity != nil {
		reg.Register(activeCommand(deps.Activity))
	}
	if deps.Runs != nil {
		reg.Register(runCommand(deps.Runs))
	}
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			b.WriteString("Anything else is run as a task.")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// /assess shows how a task would be classified without running it.
func assessCommand() *Command {
	return &Command{
		Name:        "assess",
		Description: "Show the complexity and keywords a task would be assessed with",
		Usage:       "/assess <task>",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /assess <task>"}, nil
			}
			tier, keywords := classifier.Classify(args)
			scores := classifier.Score(args)
			return &CommandResult{
				Content: fmt.Sprintf("Complexity: %s (simple=%d moderate=%d complex=%d)\nKeywords: %s",
					tier, scores.Simple, scores.Moderate, scores.Complex, strings.Join(keywords, ", ")),
				Data: map[string]any{"complexity": tier, "keywords": keywords},
			}, nil
		},
	}
}

func agentsCommand(lister AgentLister) *Command {
	return &Command{
		Name:        "agents",
		Description: "List registered specialist types",
		Usage:       "/agents",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			templates := lister.List()
			if len(templates) == 0 {
				return &CommandResult{Content: "No agents registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Registered agents:\n")
			for _, t := range templates {
				fmt.Fprintf(&b, "  [%s] %s: %s\n", t.Type, t.Name, strings.Join(t.Capabilities, ", "))
			}
			return &CommandResult{Content: b.String(), Data: templates}, nil
		},
	}
}

func toolsCommand(lister ToolLister) *Command {
	return &Command{
		Name:        "tools",
		Description: "List specialist tools and their usage",
		Usage:       "/tools",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			stats := lister.Stats()
			if len(stats) == 0 {
				return &CommandResult{Content: "No tools registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Tools:\n")
			for _, s := range stats {
				fmt.Fprintf(&b, "  %s (calls=%d, failures=%d)\n", s.Name, s.Calls, s.Failures)
			}
			return &CommandResult{Content: b.String(), Data: stats}, nil
		},
	}
}

func activeCommand(view ActivityView) *Command {
	return &Command{
		Name:        "active",
		Description: "Show specialists that are running right now",
		Usage:       "/active",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			running := view.Running()
			if len(running) == 0 {
				return &CommandResult{Content: "No specialists running."}, nil
			}
			var b strings.Builder
			b.WriteString("Running specialists:\n")
			for _, ex := range running {
				fmt.Fprintf(&b, "  %s (%s) task=%s for %s\n",
					ex.AgentID, ex.AgentType, ex.TaskID, time.Since(ex.StartedAt).Round(time.Second))
			}
			return &CommandResult{Content: b.String(), Data: running}, nil
		},
	}
}

func runCommand(runs RunLookup) *Command {
	return &Command{
		Name:        "run",
		Description: "Show the outcome of a finished task",
		Usage:       "/run <task_id>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /run <task_id>"}, nil
			}
			res, err := runs.GetRun(ctx, args)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Run %s: %v", args, err)}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Run %s: %s (%s)\n", res.TaskID, res.WorkflowStatus, res.TaskMetadata.Complexity)
			for _, a := range res.SpawnedAgents {
				fmt.Fprintf(&b, "  %s %s", a.AgentID, a.Status)
				if a.Error != "" {
					fmt.Fprintf(&b, ": %s", a.Error)
				}
				b.WriteByte('\n')
			}
			for _, e := range res.Errors {
				fmt.Fprintf(&b, "  error: %s\n", e)
			}
			return &CommandResult{Content: b.String(), Data: res}, nil
		},
	}
}
