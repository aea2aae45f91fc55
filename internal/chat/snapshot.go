// ABOUTME: Builds the immutable per-run send configuration snapshot.
// ABOUTME: Session settings, defaults, and discovered MCP servers are captured at one instant.

package chat

import (
	"github.com/halyard-dev/halyard/internal/engine"
	"github.com/halyard-dev/halyard/internal/mcp"
	"github.com/halyard-dev/halyard/internal/store"
)

// Defaults supplies the send configuration used when a session record leaves
// a field empty.
type Defaults struct {
	Model         string
	Provider      string
	Backend       string
	ExecutionMode string
	ThinkingLevel string
	EffortLevel   string
}

// buildSnapshot captures the session's effective send configuration.
// A queued message keeps the snapshot taken at enqueue time; later changes
// to session settings never leak into already-queued sends.
func (c *Coordinator) buildSnapshot(sess *store.Session) engine.SendConfig {
	cfg := engine.SendConfig{
		Model:         pick(sess.Model, c.defaults.Model),
		Provider:      pick(sess.Provider, c.defaults.Provider),
		Backend:       pick(sess.Backend, c.defaults.Backend),
		ExecutionMode: pick(sess.ExecutionMode, c.defaults.ExecutionMode),
		ThinkingLevel: pick(sess.ThinkingLevel, c.defaults.ThinkingLevel),
		EffortLevel:   pick(sess.EffortLevel, c.defaults.EffortLevel),
	}
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = "build"
	}

	// Thinking only helps during planning; outside plan mode it is
	// suppressed when so configured.
	if c.suppressThinking && cfg.ExecutionMode != "plan" {
		cfg.ThinkingLevel = ""
	}

	servers, err := mcp.DiscoverServers(c.workDir)
	if err != nil {
		c.logger.Warn("mcp discovery failed", "error", err)
	}
	cfg.MCPServers = mcp.Names(servers)

	return cfg
}

func pick(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
