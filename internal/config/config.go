// ABOUTME: Configuration loading and parsing for halyard
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete halyard configuration
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Database DatabaseConfig `yaml:"database"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EngineConfig holds the agent CLI subprocess configuration
type EngineConfig struct {
	// Command is the argv used to launch the agent CLI. The prompt is
	// written to the process's stdin and events are read from stdout.
	Command []string `yaml:"command"`
	// WorkDir is the worktree the CLI runs in. Defaults to the current directory.
	WorkDir string `yaml:"work_dir"`

	IdleTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DefaultsConfig holds the send configuration applied to new sessions
type DefaultsConfig struct {
	Model         string `yaml:"model"`
	Provider      string `yaml:"provider"`
	Backend       string `yaml:"backend"`
	ExecutionMode string `yaml:"execution_mode"`
	ThinkingLevel string `yaml:"thinking_level"`
	EffortLevel   string `yaml:"effort_level"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if len(c.Engine.Command) == 0 {
		c.Engine.Command = []string{"claude", "--output-format", "stream-json"}
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath()
	}
	if c.Defaults.ExecutionMode == "" {
		c.Defaults.ExecutionMode = "build"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func defaultDatabasePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "halyard", "halyard.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "halyard.db"
	}
	return filepath.Join(home, ".local", "share", "halyard", "halyard.db")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Engine.Command) == 0 {
		return fmt.Errorf("engine.command is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Defaults.ExecutionMode {
	case "build", "plan", "yolo":
	default:
		return fmt.Errorf("defaults.execution_mode must be build, plan, or yolo, got %q", c.Defaults.ExecutionMode)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Engine.IdleTimeoutRaw != "" {
		cfg.Engine.IdleTimeout, err = time.ParseDuration(cfg.Engine.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Engine.IdleTimeoutRaw, err)
		}
	}

	return nil
}
