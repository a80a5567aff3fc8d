// Package config loads ChatLab's YAML configuration. A user-level file in
// ~/.chatlab is merged with a project-level chatlab.yaml, with the latter
// taking precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/stupid-ve/ChatLab/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied after loading.
const (
	DefaultProvider      = "compat"
	DefaultMaxTokens     = 2048
	DefaultMaxToolRounds = 5
	DefaultTimeout       = Duration(2 * time.Minute)
)

// Duration decodes YAML values like "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MCPServer describes one external tool server to launch and attach.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// ToolFilter restricts which registered tools are exposed to the model.
// Patterns are doublestar globs over tool names; an empty allow list means
// everything not denied.
type ToolFilter struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Config is the full ChatLab agent configuration.
type Config struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Temperature   *float64      `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	ClientTimeout Duration      `yaml:"client_timeout"`
	Tools         ToolFilter    `yaml:"tools"`
	MCPServers    []MCPServer   `yaml:"mcp_servers"`
}

// Load reads the user-level config first, then overlays the project-level
// file, then applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".chatlab", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			if err := loadFromFile(userPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectPath := filepath.Join(wd, "chatlab.yaml")
	if _, err := os.Stat(projectPath); err == nil {
		if err := loadFromFile(projectPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "loading project config")
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only fields present in the YAML, which gives a
	// simple project-over-user merge.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = DefaultTimeout
	}
}

func (c *Config) validate() error {
	for _, pattern := range append(append([]string{}, c.Tools.Allow...), c.Tools.Deny...) {
		if !doublestar.ValidatePattern(pattern) {
			return errors.New("invalid tool filter pattern %q", pattern)
		}
	}
	for _, srv := range c.MCPServers {
		if srv.Name == "" || srv.Command == "" {
			return errors.New("mcp server entries need both name and command")
		}
	}
	return nil
}
