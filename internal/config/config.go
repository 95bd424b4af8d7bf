package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nidhogg/agentspawn/internal/embedding"
	"github.com/nidhogg/agentspawn/internal/mcp"
	"github.com/nidhogg/agentspawn/internal/provider"
	"github.com/nidhogg/agentspawn/internal/vectorstore"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Providers    []ProviderConfig   `json:"providers" yaml:"providers"`
	Gateway      GatewayConfig      `json:"gateway" yaml:"gateway"`
	MCP          MCPConfig          `json:"mcp" yaml:"mcp"`
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Embedding    embedding.Config   `json:"embedding" yaml:"embedding"`
	Registry     RegistryConfig     `json:"registry" yaml:"registry"`
	Tools        ToolsConfig        `json:"tools" yaml:"tools"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// OrchestratorConfig is read once when the engine is built.
type OrchestratorConfig struct {
	Provider       string   `json:"provider" yaml:"provider"`
	Model          string   `json:"model" yaml:"model"`
	Temperature    float64  `json:"temperature" yaml:"temperature"`
	MaxRetries     int      `json:"max_retries" yaml:"max_retries"`
	AgentTimeout   Duration `json:"agent_timeout" yaml:"agent_timeout"`
	MaxConcurrency int      `json:"max_concurrency" yaml:"max_concurrency"`
	HistoryLimit   int      `json:"history_limit" yaml:"history_limit"`
	HistoryTokens  int      `json:"history_tokens" yaml:"history_tokens"`
	CompactHistory bool     `json:"compact_history" yaml:"compact_history"`
}

// ProviderConfig declares one model provider. Routes lists the agent types
// whose calls go to this provider first.
type ProviderConfig struct {
	ID        string   `json:"id" yaml:"id"`
	Type      string   `json:"type" yaml:"type"`
	Name      string   `json:"name" yaml:"name"`
	Endpoint  string   `json:"endpoint" yaml:"endpoint"`
	APIKey    string   `json:"api_key" yaml:"api_key"`
	Model     string   `json:"model" yaml:"model"`
	MaxTokens int      `json:"max_tokens" yaml:"max_tokens"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`
	Routes    []string `json:"routes,omitempty" yaml:"routes,omitempty"`
}

// Provider converts to the provider package's config.
func (p ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:        p.ID,
		Type:      p.Type,
		Name:      p.Name,
		Endpoint:  p.Endpoint,
		APIKey:    p.APIKey,
		Model:     p.Model,
		MaxTokens: p.MaxTokens,
		Timeout:   p.Timeout.Duration,
	}
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack" yaml:"slack"`
	Discord DiscordGatewayConfig `json:"discord" yaml:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
}

type MCPConfig struct {
	Servers []mcp.ServerConfig `json:"servers" yaml:"servers"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig           `json:"postgres" yaml:"postgres"`
	Neo4j    Neo4jConfig              `json:"neo4j" yaml:"neo4j"`
	Redis    RedisConfig              `json:"redis" yaml:"redis"`
	Qdrant   vectorstore.QdrantConfig `json:"qdrant" yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

type RedisConfig struct {
	URL    string `json:"url" yaml:"url"`
	Stream string `json:"stream" yaml:"stream"`
}

// RegistryConfig points at extra agent templates on disk.
type RegistryConfig struct {
	TemplateDir string `json:"template_dir" yaml:"template_dir"`
	Watch       bool   `json:"watch" yaml:"watch"`
}

// ToolsConfig enables the optional built-in tools.
type ToolsConfig struct {
	SQLitePath string   `json:"sqlite_path" yaml:"sqlite_path"`
	FileRoot   string   `json:"file_root" yaml:"file_root"`
	HTTPAllow  []string `json:"http_allow" yaml:"http_allow"`
}

// Duration accepts "45s"-style strings or integer seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err == nil {
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var secs float64
	if n.Tag == "!!int" || n.Tag == "!!float" {
		if err := n.Decode(&secs); err != nil {
			return err
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	return d.parse(n.Value)
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

func expandEnv(data string) string {
	return envVarRe.ReplaceAllStringFunc(data, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON or YAML config file (by extension), substitutes
// environment variable references and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := []byte(expandEnv(string(data)))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(resolved, &cfg)
	default:
		err = json.Unmarshal(resolved, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	o := &c.Orchestrator
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5"
	}
	if o.Temperature == 0 {
		o.Temperature = 0.2
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.AgentTimeout.Duration == 0 {
		o.AgentTimeout.Duration = 60 * time.Second
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = 4
	}
	if o.HistoryLimit == 0 {
		o.HistoryLimit = 20
	}
	if o.HistoryTokens == 0 {
		o.HistoryTokens = 1500
	}
	if c.Database.Qdrant.Port == 0 {
		c.Database.Qdrant.Port = 6334
	}
	if c.Database.Neo4j.User == "" {
		c.Database.Neo4j.User = "neo4j"
	}
	for i := range c.Providers {
		if c.Providers[i].Name == "" {
			c.Providers[i].Name = c.Providers[i].ID
		}
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.Temperature < 0 || o.Temperature > 2 {
		return fmt.Errorf("orchestrator.temperature %.2f out of range [0,2]", o.Temperature)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must not be negative")
	}
	if o.MaxConcurrency < 0 {
		return fmt.Errorf("orchestrator.max_concurrency must not be negative")
	}
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		switch p.Type {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("provider %s: unsupported type %q", p.ID, p.Type)
		}
	}
	if o.Provider != "" && !seen[o.Provider] {
		return fmt.Errorf("orchestrator.provider %q is not declared", o.Provider)
	}
	return nil
}
