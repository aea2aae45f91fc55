// ABOUTME: Tests for MCP server discovery and project/user scope precedence.
// ABOUTME: Uses temp worktrees with real TOML files.

package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectConfig(t *testing.T, worktree, content string) {
	t.Helper()
	dir := filepath.Join(worktree, ".codex")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))
}

func TestDiscoverServers_ProjectScope(t *testing.T) {
	worktree := t.TempDir()
	writeProjectConfig(t, worktree, `
[mcp_servers.fetch]
command = "uvx"
args = ["mcp-server-fetch"]

[mcp_servers.db]
command = "mcp-db"
env = { DB_URL = "postgres://localhost" }
`)

	servers, err := DiscoverServers(worktree)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	// Sorted by name.
	assert.Equal(t, "db", servers[0].Name)
	assert.Equal(t, "mcp-db", servers[0].Command)
	assert.Equal(t, "project", servers[0].Scope)
	assert.Equal(t, "postgres://localhost", servers[0].Env["DB_URL"])

	assert.Equal(t, "fetch", servers[1].Name)
	assert.Equal(t, []string{"mcp-server-fetch"}, servers[1].Args)
}

func TestDiscoverServers_MissingConfigIsEmpty(t *testing.T) {
	servers, err := DiscoverServers(t.TempDir())
	require.NoError(t, err)

	// User-scope config may exist on the machine running tests; project scope
	// must contribute nothing.
	for _, s := range servers {
		assert.NotEqual(t, "project", s.Scope)
	}
}

func TestDiscoverServers_BadTOML(t *testing.T) {
	worktree := t.TempDir()
	writeProjectConfig(t, worktree, `[mcp_servers.broken`)

	_, err := DiscoverServers(worktree)
	require.Error(t, err)
}

func TestNames(t *testing.T) {
	names := Names([]Server{{Name: "a"}, {Name: "b"}})
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Empty(t, Names(nil))
}
