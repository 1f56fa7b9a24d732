// Package config loads the codecrew runtime configuration from a YAML file.
// A missing file is not an error: every field has a usable default, so the
// server starts with zero setup and a config file only narrows behavior.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where Load looks when no explicit path is given.
	DefaultPath = "codecrew.yaml"

	defaultHost         = "127.0.0.1"
	defaultPort         = 8080
	defaultHandoffLimit = 24
	defaultStepRetries  = 1
	defaultPollInterval = 2 * time.Second
	defaultStateDir     = ".codecrew"
)

// Duration wraps time.Duration so YAML values like "500ms" parse.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port pair for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WorkflowSettings bounds the orchestration loop.
type WorkflowSettings struct {
	// HandoffLimit caps control transfers per run.
	HandoffLimit int `yaml:"handoff_limit"`
	// StepRetries is how often a failed agent step is retried.
	StepRetries int `yaml:"step_retries"`
	// OptionalAgents also registers the database and research roles.
	OptionalAgents bool `yaml:"optional_agents"`
}

// ViewerConfig tunes the terminal viewer.
type ViewerConfig struct {
	// PollInterval is how often the viewer refreshes from the server.
	PollInterval Duration `yaml:"poll_interval"`
}

// Config is the root of codecrew.yaml.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Workflow WorkflowSettings `yaml:"workflow"`
	Viewer   ViewerConfig     `yaml:"viewer"`

	// StateDir holds the artifact database and log files.
	StateDir string `yaml:"state_dir"`
	// LogFile, when set, receives the server activity log. Empty keeps
	// logging on stderr.
	LogFile string `yaml:"log_file"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration at path. A missing file yields Default();
// a present but malformed file is an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// ArtifactDBPath returns the sqlite database location under StateDir.
func (c Config) ArtifactDBPath() string {
	return filepath.Join(c.StateDir, "artifacts.db")
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Host) == "" {
		c.Server.Host = defaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Workflow.HandoffLimit == 0 {
		c.Workflow.HandoffLimit = defaultHandoffLimit
	}
	if c.Workflow.StepRetries == 0 {
		c.Workflow.StepRetries = defaultStepRetries
	}
	if c.Viewer.PollInterval == 0 {
		c.Viewer.PollInterval = Duration(defaultPollInterval)
	}
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = defaultStateDir
	}
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Workflow.HandoffLimit < 1 {
		return fmt.Errorf("workflow.handoff_limit must be positive, got %d", c.Workflow.HandoffLimit)
	}
	if c.Workflow.StepRetries < 0 {
		return fmt.Errorf("workflow.step_retries must not be negative, got %d", c.Workflow.StepRetries)
	}
	if c.Viewer.PollInterval.Std() < 100*time.Millisecond {
		return fmt.Errorf("viewer.poll_interval must be at least 100ms, got %s", c.Viewer.PollInterval)
	}
	return nil
}
