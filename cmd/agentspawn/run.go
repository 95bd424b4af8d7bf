package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	runThread string
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Process one task and print the answer",
	Long: `Run a single task through the engine without starting the server.

Examples:
  agentspawn run "What is a binary tree?"
  agentspawn run --thread demo "Analyze this quarter's sales data"
  agentspawn run --json "Research caching strategies and write a Go LRU"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVarP(&runThread, "thread", "t", "", "conversation thread for history")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger("warn")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.engine.ProcessTask(ctx, strings.Join(args, " "), runThread)
	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(out, res)
	if !res.Succeeded() {
		return fmt.Errorf("task %s %s", res.TaskID, res.WorkflowStatus)
	}
	return nil
}

func printResult(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "Task %s: %s (%s)\n", res.TaskID, res.WorkflowStatus, res.TaskMetadata.Complexity)
	for _, a := range res.SpawnedAgents {
		fmt.Fprintf(w, "  %-28s %-10s %s\n", a.AgentID, a.Status, a.Duration.Round(time.Millisecond))
	}
	if len(res.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	if res.FinalResponse != "" {
		fmt.Fprintf(w, "\n%s\n", res.FinalResponse)
	}
}
