package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models planline.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Thresholds struct {
		LongLagDays      int `yaml:"long_lag_days"`
		LargeFloatDays   int `yaml:"large_float_days"`
		LongDurationDays int `yaml:"long_duration_days"`
	} `yaml:"thresholds"`
	Simulation struct {
		Iterations int   `yaml:"iterations"`
		Seed       int64 `yaml:"seed"`
		Workers    int   `yaml:"workers"`
	} `yaml:"simulation"`
	Server struct {
		Addr                   string `yaml:"addr"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pln config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the workspace config, or defaults when no file
// exists.
func LoadOptional(workspace, projectID string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(projectID), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Thresholds.LongLagDays < 0 || c.Thresholds.LargeFloatDays < 0 || c.Thresholds.LongDurationDays < 0 {
		return fmt.Errorf("config.thresholds must be non-negative")
	}
	if c.Simulation.Iterations < 1 {
		return fmt.Errorf("config.simulation.iterations must be >= 1")
	}
	if c.Simulation.Workers < 0 {
		return fmt.Errorf("config.simulation.workers must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML for a project.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

const defaultTemplate = `project:
  id: %s

# Schedule-quality thresholds, in work days. The checker reports lags,
# floats, and durations at or beyond these limits.
thresholds:
  long_lag_days: 10
  large_float_days: 44
  long_duration_days: 20

simulation:
  iterations: 1000
  seed: 1
  workers: 0

server:
  addr: ":8080"
  jwt_secret: ""
  allow_legacy_actor_header: true
`
