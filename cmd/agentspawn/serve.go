package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/agentspawn/internal/api"
	"github.com/nidhogg/agentspawn/internal/command"
	"github.com/nidhogg/agentspawn/internal/gateway"
	msgrouter "github.com/nidhogg/agentspawn/internal/router"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and chat gateways",
	Long: `Start the orchestration engine behind the HTTP API, and connect any
enabled Slack or Discord gateways. Chat messages become tasks on the
thread "<platform>:<channel>"; messages starting with / are commands.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("Starting AgentSpawn...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	commands := command.NewRegistry()
	deps := command.Deps{
		Agents:   a.templates,
		Tools:    a.tools,
		Activity: a.engine.Scheduler(),
		Runs:     a.engine.Runs(),
	}
	command.RegisterBuiltins(commands, deps)

	// Wire message router BEFORE registering adapters (Register captures handler)
	gw := gateway.NewGateway(logger)
	mr := msgrouter.New(a.engine, gw, commands, 10*time.Minute, logger)
	gw.SetHandler(mr.Handle)

	if s := cfg.Gateway.Slack; s.Enabled && s.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(s.BotToken, s.AppToken, logger))
	}
	if d := cfg.Gateway.Discord; d.Enabled && d.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(d.BotToken, logger))
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	defer gw.Close()

	handler := api.NewHandler(api.Deps{
		Engine:    a.engine,
		Activity:  a.engine.Scheduler(),
		Runs:      a.engine.Runs(),
		Templates: a.templates,
		Saver:     saver(a),
		Tools:     a.tools,
		History:   a.history,
		Events:    a.events,
		Lineage:   lineageView(a),
		Gateway:   gw,
	}, logger)

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("AgentSpawn listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down AgentSpawn...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// saver and lineageView keep typed nils out of the handler's interfaces.
func saver(a *app) api.TemplateSaver {
	if a.pg == nil {
		return nil
	}
	return a.pg
}

func lineageView(a *app) api.LineageView {
	if a.graph == nil {
		return nil
	}
	return a.graph
}
