package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nidhogg/agentspawn/internal/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	eventsFollow bool
	eventsTask   string
	eventsLimit  int64
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show orchestration events from the Redis stream",
	Long: `Print recent lifecycle events (task received, agents spawned, agents
finished, task completed) from the configured Redis stream. With --follow,
keep printing new events until interrupted.`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "stream new events")
	eventsCmd.Flags().StringVar(&eventsTask, "task", "", "only events for this task ID")
	eventsCmd.Flags().Int64VarP(&eventsLimit, "limit", "n", 20, "number of recent events")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Redis.URL == "" {
		return fmt.Errorf("database.redis.url is not configured")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := orchestrator.NewRedisSink(ctx, cfg.Database.Redis.URL, cfg.Database.Redis.Stream, zap.NewNop())
	if err != nil {
		return err
	}
	defer sink.Close()

	out := cmd.OutOrStdout()
	recent, err := sink.Recent(ctx, eventsLimit, eventsTask)
	if err != nil {
		return err
	}
	for i := len(recent) - 1; i >= 0; i-- {
		printEvent(out, recent[i])
	}
	if !eventsFollow {
		return nil
	}
	for ev := range sink.Subscribe(ctx) {
		if eventsTask != "" && ev.TaskID != eventsTask {
			continue
		}
		printEvent(out, ev)
	}
	return nil
}

func printEvent(w io.Writer, ev orchestrator.Event) {
	line := fmt.Sprintf("%s  %-16s task=%s", ev.At.Format("15:04:05.000"), ev.Type, ev.TaskID)
	if ev.AgentID != "" {
		line += " agent=" + ev.AgentID
	}
	if ev.Status != "" {
		line += " status=" + ev.Status
	}
	if ev.Detail != "" {
		line += " " + ev.Detail
	}
	fmt.Fprintln(w, line)
}
