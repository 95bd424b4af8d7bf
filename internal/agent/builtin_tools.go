package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nidhogg/agentspawn/internal/provider"
	"github.com/nidhogg/agentspawn/internal/registry"
)

const maxToolOutput = 4000

// BuiltinOptions enables the optional built-in tools. Zero values leave the
// corresponding tool unregistered.
type BuiltinOptions struct {
	Templates  *registry.Registry
	FileRoot   string
	HTTPAllow  []string
	HTTPClient *http.Client
}

// RegisterBuiltinTools adds the default tools to reg.
func RegisterBuiltinTools(reg *ToolRegistry, opts BuiltinOptions) {
	reg.Register(provider.Tool{
		Name:        "current_time",
		Description: "Get the current time in RFC3339 format",
		Parameters:  objectSchema(map[string]any{}),
	}, func(ctx context.Context, _ json.RawMessage) (string, error) {
		return fmt.Sprintf(`{"time":%q}`, time.Now().UTC().Format(time.RFC3339)), nil
	})

	if opts.Templates != nil {
		reg.Register(provider.Tool{
			Name:        "list_agents",
			Description: "List the specialist types available and their capabilities",
			Parameters:  objectSchema(map[string]any{}),
		}, listAgentsHandler(opts.Templates))
	}

	if opts.FileRoot != "" {
		reg.Register(provider.Tool{
			Name:        "file_system",
			Description: "Read a file or list a directory under the workspace root",
			Parameters: objectSchema(map[string]any{
				"operation": map[string]any{"type": "string", "enum": []string{"read", "list"}},
				"path":      map[string]any{"type": "string", "description": "Path relative to the workspace root"},
			}, "operation", "path"),
		}, fileSystemHandler(opts.FileRoot))
	}

	if len(opts.HTTPAllow) > 0 {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: 15 * time.Second}
		}
		reg.Register(provider.Tool{
			Name:        "api_call",
			Description: "Call an allow-listed HTTP API with GET or POST",
			Parameters: objectSchema(map[string]any{
				"method": map[string]any{"type": "string", "enum": []string{"GET", "POST"}},
				"url":    map[string]any{"type": "string"},
				"body":   map[string]any{"type": "string"},
			}, "url"),
		}, apiCallHandler(client, opts.HTTPAllow))
	}
}

func listAgentsHandler(templates *registry.Registry) ToolHandler {
	return func(ctx context.Context, _ json.RawMessage) (string, error) {
		type brief struct {
			Type         registry.AgentType `json:"agent_type"`
			Name         string             `json:"name"`
			Capabilities []string           `json:"capabilities"`
		}
		list := templates.List()
		out := make([]brief, len(list))
		for i, t := range list {
			out[i] = brief{Type: t.Type, Name: t.Name, Capabilities: t.Capabilities}
		}
		b, err := json.Marshal(out)
		return string(b), err
	}
}

func fileSystemHandler(root string) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var p struct {
			Operation string `json:"operation"`
			Path      string `json:"path"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return "", err
		}
		full, err := resolveUnder(root, p.Path)
		if err != nil {
			return "", err
		}
		switch p.Operation {
		case "read":
			data, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", p.Path, err)
			}
			return truncate(string(data), maxToolOutput), nil
		case "list":
			entries, err := os.ReadDir(full)
			if err != nil {
				return "", fmt.Errorf("list %s: %w", p.Path, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				n := e.Name()
				if e.IsDir() {
					n += "/"
				}
				names = append(names, n)
			}
			b, err := json.Marshal(names)
			return string(b), err
		default:
			return "", fmt.Errorf("unsupported operation %q", p.Operation)
		}
	}
}

// resolveUnder joins rel onto root and rejects paths that escape it.
func resolveUnder(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace root", rel)
	}
	return filepath.Join(absRoot, clean), nil
}

func apiCallHandler(client *http.Client, allow []string) ToolHandler {
	allowed := make(map[string]bool, len(allow))
	for _, h := range allow {
		allowed[strings.ToLower(h)] = true
	}
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var p struct {
			Method string `json:"method"`
			URL    string `json:"url"`
			Body   string `json:"body"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return "", err
		}
		u, err := url.Parse(p.URL)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid url %q", p.URL)
		}
		if !allowed[strings.ToLower(u.Host)] && !allowed[strings.ToLower(u.Hostname())] {
			return "", fmt.Errorf("host %s is not allowed", u.Host)
		}

		method := strings.ToUpper(p.Method)
		if method == "" {
			method = http.MethodGet
		}
		if method != http.MethodGet && method != http.MethodPost {
			return "", fmt.Errorf("unsupported method %s", method)
		}
		var body io.Reader
		if method == http.MethodPost {
			body = strings.NewReader(p.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return "", err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("api call: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxToolOutput+1))
		if err != nil {
			return "", err
		}
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("api call returned %d: %s", resp.StatusCode, truncate(string(data), 200))
		}
		return truncate(string(data), maxToolOutput), nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
