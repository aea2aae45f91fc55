// ABOUTME: Tests for configuration loading and validation.
// ABOUTME: Covers env var expansion, defaults, durations, and invalid values.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  command: ["claude", "--output-format", "stream-json"]
  work_dir: /tmp/worktree
  idle_timeout: 90s
database:
  path: /tmp/halyard.db
defaults:
  model: opus
  execution_mode: plan
  thinking_level: high
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "--output-format", "stream-json"}, cfg.Engine.Command)
	assert.Equal(t, "/tmp/worktree", cfg.Engine.WorkDir)
	assert.Equal(t, "90s", cfg.Engine.IdleTimeoutRaw)
	assert.Equal(t, float64(90), cfg.Engine.IdleTimeout.Seconds())
	assert.Equal(t, "/tmp/halyard.db", cfg.Database.Path)
	assert.Equal(t, "opus", cfg.Defaults.Model)
	assert.Equal(t, "plan", cfg.Defaults.ExecutionMode)
	assert.Equal(t, "high", cfg.Defaults.ThinkingLevel)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/halyard.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Engine.Command)
	assert.Equal(t, "build", cfg.Defaults.ExecutionMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("HALYARD_TEST_DB", "/data/expanded.db")
	path := writeConfig(t, `
database:
  path: ${HALYARD_TEST_DB}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/expanded.db", cfg.Database.Path)
}

func TestInvalidLoggingFormat(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/halyard.db
logging:
  format: xml
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestInvalidExecutionMode(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/halyard.db
defaults:
  execution_mode: turbo
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution_mode")
}

func TestInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
engine:
  idle_timeout: soonish
database:
  path: /tmp/halyard.db
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout")
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.Database.Path)
}
