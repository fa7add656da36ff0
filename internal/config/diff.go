package config

import (
	"maps"

	"github.com/openquill/dmforge/internal/tool/mcpbridge"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CampaignChanged is true when the adventure outline source changed.
	// New sessions pick up the new outline; running ones keep the old.
	CampaignChanged bool

	MCPChanged bool            // true if any MCP server was added, removed, or reconfigured
	MCPChanges []MCPServerDiff // per-server diffs
}

// MCPServerDiff describes what changed for a single MCP server between two configs.
type MCPServerDiff struct {
	Name    string
	Changed bool
	Added   bool
	Removed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Campaign outline
	if old.Campaign != new.Campaign {
		d.CampaignChanged = true
	}

	// Build MCP server lookup maps keyed by name.
	oldSrvs := make(map[string]*mcpbridge.ServerConfig, len(old.MCP.Servers))
	for i := range old.MCP.Servers {
		oldSrvs[old.MCP.Servers[i].Name] = &old.MCP.Servers[i]
	}
	newSrvs := make(map[string]*mcpbridge.ServerConfig, len(new.MCP.Servers))
	for i := range new.MCP.Servers {
		newSrvs[new.MCP.Servers[i].Name] = &new.MCP.Servers[i]
	}

	// Detect modified and removed servers.
	for name, oldSrv := range oldSrvs {
		newSrv, exists := newSrvs[name]
		if !exists {
			d.MCPChanges = append(d.MCPChanges, MCPServerDiff{
				Name:    name,
				Removed: true,
			})
			d.MCPChanged = true
			continue
		}
		if !serverEqual(oldSrv, newSrv) {
			d.MCPChanges = append(d.MCPChanges, MCPServerDiff{
				Name:    name,
				Changed: true,
			})
			d.MCPChanged = true
		}
	}

	// Detect added servers.
	for name := range newSrvs {
		if _, exists := oldSrvs[name]; !exists {
			d.MCPChanges = append(d.MCPChanges, MCPServerDiff{
				Name:  name,
				Added: true,
			})
			d.MCPChanged = true
		}
	}

	return d
}

// serverEqual compares two MCP server configs with the same name.
func serverEqual(old, new *mcpbridge.ServerConfig) bool {
	return old.Transport == new.Transport &&
		old.Command == new.Command &&
		old.URL == new.URL &&
		maps.Equal(old.Env, new.Env)
}
