package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nidhogg/agentspawn/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentspawn",
	Short: "Task orchestration engine that spawns specialist agents on demand",
	Long: `AgentSpawn classifies each task, decides which specialist agents it
needs, runs them concurrently and merges their output into one answer.

Simple tasks are answered directly; moderate and complex tasks are
delegated to specialists such as the data analyst, researcher and code
generator, plus any templates registered at runtime.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (JSON or YAML); defaults to $CONFIG_PATH, then configs/agentspawn.yaml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(eventsCmd)
}

// loadConfig resolves the config path; a missing default file falls back
// to built-in defaults, an explicit path must exist.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat("configs/agentspawn.yaml"); err != nil {
			return config.Default(), nil
		}
		path = "configs/agentspawn.yaml"
	}
	return config.Load(path)
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}
