// Package mcp bridges tools served by MCP servers (HTTP+SSE transport) into
// the specialist tool registry.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/agentspawn/internal/agent"
	"github.com/nidhogg/agentspawn/internal/provider"
	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

// ServerConfig names one MCP server.
type ServerConfig struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Tool describes a tool exposed by an MCP server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message) }

type reply struct {
	result json.RawMessage
	err    error
}

// Client holds one SSE session with an MCP server. Requests are POSTed to
// the endpoint announced on the stream; replies arrive on the stream.
type Client struct {
	cfg     ServerConfig
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger

	endpoint string
	tools    []Tool
	nextID   atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan reply
	cancel  context.CancelFunc
}

// NewClient creates a client; call Connect before use.
func NewClient(cfg ServerConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		timeout: 30 * time.Second,
		logger:  logger,
		pending: make(map[int64]chan reply),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// Tools returns the tools discovered on Connect.
func (c *Client) Tools() []Tool { return c.tools }

// Connect opens the event stream, performs the initialize handshake and
// lists the server's tools.
func (c *Client) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp %s: %w", c.cfg.Name, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp %s connect: %w", c.cfg.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp %s: stream status %d", c.cfg.Name, resp.StatusCode)
	}
	c.cancel = cancel

	endpoint := make(chan string, 1)
	go c.readStream(resp, endpoint)

	select {
	case ep, ok := <-endpoint:
		if !ok {
			c.Close()
			return fmt.Errorf("mcp %s: stream closed before endpoint event", c.cfg.Name)
		}
		c.endpoint = ep
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}

	if _, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "agentspawn", "version": "1.0"},
	}); err != nil {
		c.Close()
		return fmt.Errorf("mcp %s initialize: %w", c.cfg.Name, err)
	}
	if err := c.post(ctx, map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"}); err != nil {
		c.Close()
		return fmt.Errorf("mcp %s initialized: %w", c.cfg.Name, err)
	}

	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		c.Close()
		return fmt.Errorf("mcp %s tools/list: %w", c.cfg.Name, err)
	}
	var listed struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		c.Close()
		return fmt.Errorf("mcp %s: decode tools: %w", c.cfg.Name, err)
	}
	c.tools = listed.Tools
	c.logger.Info("MCP server connected",
		zap.String("name", c.cfg.Name),
		zap.String("endpoint", c.endpoint),
		zap.Int("tools", len(c.tools)))
	return nil
}

// readStream parses SSE frames. The first "endpoint" event is sent on
// endpoint; "message" events are routed to pending calls.
func (c *Client) readStream(resp *http.Response, endpoint chan<- string) {
	defer resp.Body.Close()
	sentEndpoint := false
	defer func() {
		if !sentEndpoint {
			close(endpoint)
		}
		c.failPending(errors.New("mcp stream closed"))
	}()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var event string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			payload := data.String()
			data.Reset()
			if event == "endpoint" && !sentEndpoint {
				endpoint <- c.resolve(payload)
				sentEndpoint = true
			} else if event == "" || event == "message" {
				c.route([]byte(payload))
			}
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (c *Client) resolve(ref string) string {
	base, err := url.Parse(c.cfg.URL)
	if err != nil {
		return ref
	}
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return u.String()
}

func (c *Client) route(payload []byte) {
	var msg struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- reply{err: msg.Error}
		return
	}
	ch <- reply{result: msg.Result}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- reply{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan reply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	if err := c.post(ctx, msg); err != nil {
		forget()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("mcp %s: %s timed out", c.cfg.Name, method)
	}
}

func (c *Client) post(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mcp %s: post status %d", c.cfg.Name, resp.StatusCode)
	}
	return nil
}

// CallTool invokes a tool and returns its text content. A result flagged
// isError becomes an error carrying that text.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	raw, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}
	var res struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return string(raw), nil
	}
	var parts []string
	for _, block := range res.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// ToolName is the registry name of an MCP tool: "<server>_<tool>".
func ToolName(server, tool string) string {
	return server + "_" + tool
}

// Register adds every discovered tool to reg under ToolName. Templates
// select them with "<server>_*".
func (c *Client) Register(reg *agent.ToolRegistry) int {
	for _, t := range c.tools {
		remote := t.Name
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		reg.Register(provider.Tool{
			Name:        ToolName(c.cfg.Name, remote),
			Description: fmt.Sprintf("[%s] %s", c.cfg.Name, t.Description),
			Parameters:  schema,
		}, func(ctx context.Context, args json.RawMessage) (string, error) {
			return c.CallTool(ctx, remote, args)
		})
	}
	return len(c.tools)
}

// Close ends the stream and fails outstanding calls.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.failPending(errors.New("mcp client closed"))
	return nil
}
