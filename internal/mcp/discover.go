// ABOUTME: MCP server discovery from codex-style TOML config files.
// ABOUTME: Project-scope config shadows user-scope config on name collisions.

package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Server describes one configured MCP server.
type Server struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Scope   string // "project" or "user"
}

// serverTable is the TOML shape of one [mcp_servers.<name>] section.
type serverTable struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
}

// configFile is the TOML shape of a codex-style config file.
type configFile struct {
	MCPServers map[string]serverTable `toml:"mcp_servers"`
}

// DiscoverServers merges MCP server definitions from the worktree's
// .codex/config.toml and the user's ~/.codex/config.toml. Project scope has
// the higher precedence: a project server shadows a user server of the same
// name. Missing files are not an error. Results are sorted by name.
func DiscoverServers(worktreePath string) ([]Server, error) {
	var servers []Server
	seen := make(map[string]bool)

	if worktreePath != "" {
		projectConfig := filepath.Join(worktreePath, ".codex", "config.toml")
		found, err := collectFromFile(projectConfig, "project", seen)
		if err != nil {
			return nil, err
		}
		servers = append(servers, found...)
	}

	if home, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(home, ".codex", "config.toml")
		found, err := collectFromFile(userConfig, "user", seen)
		if err != nil {
			return nil, err
		}
		servers = append(servers, found...)
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// collectFromFile parses one config file, skipping names already seen.
func collectFromFile(path, scope string, seen map[string]bool) ([]Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg configFile
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var servers []Server
	for name, table := range cfg.MCPServers {
		if seen[name] {
			continue
		}
		seen[name] = true
		servers = append(servers, Server{
			Name:    name,
			Command: table.Command,
			Args:    table.Args,
			Env:     table.Env,
			Scope:   scope,
		})
	}
	return servers, nil
}

// Names returns the server names in order.
func Names(servers []Server) []string {
	names := make([]string, 0, len(servers))
	for _, s := range servers {
		names = append(names, s.Name)
	}
	return names
}
