// Package mcpbridge imports tools from external MCP servers into the local
// tool registry.
//
// Servers are reached via stdio or streamable-HTTP transports using the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk). Each
// discovered tool becomes a regular [tool.Tool] whose handler proxies the
// call to the owning server session, so the rest of the system never needs
// to know whether a tool is local or remote.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openquill/dmforge/internal/tool"
)

// Transport selects how the bridge reaches an MCP server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP:
		return true
	}
	return false
}

// ServerConfig describes one external MCP server.
type ServerConfig struct {
	// Name identifies the server; imported tool names are prefixed with it
	// ("name.tool") to keep the registry collision-free.
	Name string `yaml:"name"`

	Transport Transport `yaml:"transport"`

	// Command is the executable plus arguments for stdio servers, split on
	// spaces.
	Command string `yaml:"command,omitempty"`

	// URL is the endpoint for streamable-HTTP servers.
	URL string `yaml:"url,omitempty"`

	// Env holds additional environment variables for stdio servers.
	Env map[string]string `yaml:"env,omitempty"`
}

// Validate checks that c describes a reachable server.
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcpbridge: server config must have a non-empty name")
	}
	if !c.Transport.IsValid() {
		return fmt.Errorf("mcpbridge: unknown transport %q for server %q", c.Transport, c.Name)
	}
	if c.Transport == TransportStdio && strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("mcpbridge: stdio server %q requires a non-empty command", c.Name)
	}
	if c.Transport == TransportStreamableHTTP && c.URL == "" {
		return fmt.Errorf("mcpbridge: streamable-http server %q requires a non-empty URL", c.Name)
	}
	return nil
}

// Bridge manages MCP server sessions. A single SDK client is reused across
// all connections. The zero value is not usable; create instances with
// [New].
type Bridge struct {
	mu       sync.Mutex
	client   *mcpsdk.Client
	sessions map[string]*mcpsdk.ClientSession
}

// New creates a ready-to-use Bridge.
func New() *Bridge {
	return &Bridge{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "dmforge-mcpbridge", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect establishes a session with the server described by cfg, lists its
// tools and returns them ready for registry registration. An existing
// session under the same name is closed and replaced.
func (b *Bridge) Connect(ctx context.Context, cfg ServerConfig) ([]tool.Tool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	return b.connectAndImport(ctx, cfg.Name, transport)
}

// connectAndImport establishes the session over an already-built transport
// and imports the server's tool catalogue.
func (b *Bridge) connectAndImport(ctx context.Context, serverName string, transport mcpsdk.Transport) ([]tool.Tool, error) {
	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: connect to server %q: %w", serverName, err)
	}

	var imported []tool.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcpbridge: list tools for server %q: %w", serverName, err)
		}
		imported = append(imported, b.importTool(serverName, *t))
	}

	b.mu.Lock()
	if old, ok := b.sessions[serverName]; ok {
		_ = old.Close()
	}
	b.sessions[serverName] = session
	b.mu.Unlock()

	return imported, nil
}

// importTool converts an SDK tool into a registry tool whose handler proxies
// through the named server session. MCP descriptions are optional upstream,
// but the registry requires one, so absent descriptions get a stand-in.
func (b *Bridge) importTool(serverName string, t mcpsdk.Tool) tool.Tool {
	qualified := serverName + "." + t.Name
	description := t.Description
	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("Tool %q provided by the MCP server %q.", t.Name, serverName)
	}
	return tool.Tool{
		Definition: tool.Definition{
			Name:        qualified,
			Description: description,
			Parameters:  parametersFromSchema(t.InputSchema),
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			return b.call(ctx, serverName, t.Name, args)
		},
	}
}

// call routes one tool invocation to the owning session. An IsError result
// from the server surfaces as a Go error so the executor's per-call
// isolation applies.
func (b *Bridge) call(ctx context.Context, serverName, toolName, args string) (string, error) {
	b.mu.Lock()
	session, ok := b.sessions[serverName]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mcpbridge: server %q not connected for tool %q", serverName, toolName)
	}

	var argsMap map[string]any
	if trimmed := strings.TrimSpace(args); trimmed != "" && trimmed != "{}" {
		if err := json.Unmarshal([]byte(trimmed), &argsMap); err != nil {
			return "", fmt.Errorf("mcpbridge: invalid args JSON for tool %q: %w", toolName, err)
		}
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("mcpbridge: call to tool %q failed: %w", toolName, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("mcpbridge: tool %q reported an error: %s", toolName, sb.String())
	}
	return sb.String(), nil
}

// parametersFromSchema flattens a JSON-schema object into the registry's
// parameter list via a JSON round trip. Nested structures degrade to a
// "string" parameter type; the schema only feeds the LLM prompt, not
// validation, so the loss is acceptable.
func parametersFromSchema(schema any) []tool.Parameter {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}

	required := make(map[string]bool, len(m.Required))
	for _, r := range m.Required {
		required[r] = true
	}

	// Map iteration order would leak into the rendered tool schema; the
	// registry promises deterministic prompt text, so sort the names.
	names := make([]string, 0, len(m.Properties))
	for name := range m.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tool.Parameter, 0, len(names))
	for _, name := range names {
		p := m.Properties[name]
		typ := p.Type
		switch typ {
		case "string", "boolean":
		case "number", "integer":
			typ = "number"
		default:
			typ = "string"
		}
		params = append(params, tool.Parameter{
			Name:        name,
			Type:        typ,
			Description: p.Description,
			Required:    required[name],
		})
	}
	return params
}

// Close shuts down all sessions. The Bridge must not be used afterwards.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcpbridge: close server %q: %w", name, err)
		}
		delete(b.sessions, name)
	}
	return firstErr
}
