// Package config loads ccplane's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to fields the file leaves empty.
const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 7433
	DefaultPollInterval = 2 * time.Second
	DefaultAgentCommand = "claude"
)

// ErrUnknownProject is returned by ProjectDir for ids not in the projects map.
var ErrUnknownProject = errors.New("unknown project")

// Config is the contents of ~/.ccplane/config.yaml.
type Config struct {
	// DataDir holds terminals.json and the session records.
	DataDir string `yaml:"data_dir"`
	// RootDir is the working directory of terminals without a project.
	RootDir  string            `yaml:"root_dir"`
	Agent    AgentConfig       `yaml:"agent"`
	Jobs     JobsConfig        `yaml:"jobs"`
	Projects map[string]string `yaml:"projects"`
	Server   ServerConfig      `yaml:"server"`
}

// AgentConfig controls how agent processes are launched.
type AgentConfig struct {
	// Command is split shell-style, so it may carry flags.
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// JobsConfig locates the child-agent descriptor directory.
type JobsConfig struct {
	Dir          string        `yaml:"dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token,omitempty"`
	MDNS      bool   `yaml:"mdns"`
}

// Dir returns the ccplane directory (~/.ccplane).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ccplane")
	}
	return filepath.Join(home, ".ccplane")
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config from Path.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config at path. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = Dir()
	}
	c.DataDir = ExpandHome(c.DataDir)
	if c.RootDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.RootDir = home
		} else {
			c.RootDir = "."
		}
	}
	c.RootDir = ExpandHome(c.RootDir)

	if strings.TrimSpace(c.Agent.Command) == "" {
		c.Agent.Command = DefaultAgentCommand
	}
	if c.Jobs.Dir == "" {
		c.Jobs.Dir = filepath.Join(c.DataDir, "jobs")
	}
	c.Jobs.Dir = ExpandHome(c.Jobs.Dir)
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = DefaultPollInterval
	}
	for id, dir := range c.Projects {
		c.Projects[id] = ExpandHome(dir)
	}

	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	for id, dir := range c.Projects {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("projects: empty project id")
		}
		if dir == "" {
			return fmt.Errorf("projects.%s: empty path", id)
		}
	}
	return nil
}

// ProjectDir returns the working directory registered for project id.
func (c *Config) ProjectDir(id string) (string, error) {
	dir, ok := c.Projects[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProject, id)
	}
	return dir, nil
}

// ProjectIDs returns the configured project ids in sorted order.
func (c *Config) ProjectIDs() []string {
	ids := make([]string, 0, len(c.Projects))
	for id := range c.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
