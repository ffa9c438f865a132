package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models hyvve.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Agents struct {
		Catalog map[string]AgentConfig `yaml:"catalog"`
	} `yaml:"agents"`
	Suggestions struct {
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
		ExpiryHours         int     `yaml:"expiry_hours"`
		ApprovalQueueURL    string  `yaml:"approval_queue_url"`
	} `yaml:"suggestions"`
	Timers struct {
		OnConflict string `yaml:"on_conflict"`
	} `yaml:"timers"`
	Estimation struct {
		SmoothingAlpha  float64            `yaml:"smoothing_alpha"`
		MaxStepPercent  float64            `yaml:"max_step_percent"`
		BenchmarksHours map[string]float64 `yaml:"benchmarks_hours"`
		HoursPerPoint   float64            `yaml:"hours_per_point"`
	} `yaml:"estimation"`
	Retrieval struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"retrieval"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type AgentConfig struct {
	Description string   `yaml:"description"`
	Actions     []string `yaml:"actions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	DefaultConfidenceThreshold = 0.85
	DefaultExpiryHours         = 24
	DefaultSmoothingAlpha      = 0.2
	DefaultMaxStepPercent      = 25
	DefaultHoursPerPoint       = 4
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with hyvve project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if t := c.Suggestions.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("config.suggestions.confidence_threshold must be in [0,1]")
	}
	if c.Suggestions.ExpiryHours < 0 {
		return fmt.Errorf("config.suggestions.expiry_hours must be >= 0")
	}
	switch c.Timers.OnConflict {
	case "", "reject", "replace":
	default:
		return fmt.Errorf("config.timers.on_conflict must be 'reject' or 'replace'")
	}
	if a := c.Estimation.SmoothingAlpha; a < 0 || a > 1 {
		return fmt.Errorf("config.estimation.smoothing_alpha must be in [0,1]")
	}
	if c.Estimation.MaxStepPercent < 0 {
		return fmt.Errorf("config.estimation.max_step_percent must be >= 0")
	}
	for name, agent := range c.Agents.Catalog {
		if name == "" {
			return fmt.Errorf("config.agents.catalog contains empty agent name")
		}
		for _, action := range agent.Actions {
			if action == "" {
				return fmt.Errorf("agent %s has empty action kind", name)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// ConfidenceThreshold returns the configured threshold with the default applied.
func (c *Config) ConfidenceThreshold() float64 {
	if c.Suggestions.ConfidenceThreshold == 0 {
		return DefaultConfidenceThreshold
	}
	return c.Suggestions.ConfidenceThreshold
}

// ExpiryHours returns the suggestion expiry horizon with the default applied.
func (c *Config) ExpiryHours() int {
	if c.Suggestions.ExpiryHours == 0 {
		return DefaultExpiryHours
	}
	return c.Suggestions.ExpiryHours
}

// TimerOnConflict returns the timer conflict policy, defaulting to reject.
func (c *Config) TimerOnConflict() string {
	if c.Timers.OnConflict == "" {
		return "reject"
	}
	return c.Timers.OnConflict
}

// SmoothingAlpha returns the baseline EWMA weight with the default applied.
func (c *Config) SmoothingAlpha() float64 {
	if c.Estimation.SmoothingAlpha == 0 {
		return DefaultSmoothingAlpha
	}
	return c.Estimation.SmoothingAlpha
}

// MaxStepPercent bounds a single baseline adjustment.
func (c *Config) MaxStepPercent() float64 {
	if c.Estimation.MaxStepPercent == 0 {
		return DefaultMaxStepPercent
	}
	return c.Estimation.MaxStepPercent
}

// HoursPerPoint converts estimated hours to story points.
func (c *Config) HoursPerPoint() float64 {
	if c.Estimation.HoursPerPoint == 0 {
		return DefaultHoursPerPoint
	}
	return c.Estimation.HoursPerPoint
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hyvve.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: ""

agents:
  catalog:
    navi:
      description: "Planning copilot; proposes work item changes"
      actions: [create_work_item, update_work_item, assign, change_phase, set_priority]
    sage:
      description: "Knowledge copilot; estimates and grounds answers"
      actions: [estimate]
    chrono:
      description: "Time copilot; manages timers and logged time"
      actions: [start_timer, stop_timer]

suggestions:
  confidence_threshold: 0.85
  expiry_hours: 24
  approval_queue_url: ""

timers:
  on_conflict: reject

estimation:
  smoothing_alpha: 0.2
  max_step_percent: 25
  hours_per_point: 4
  benchmarks_hours:
    feature: 8
    bug: 3
    chore: 2
    docs: 2

retrieval:
  url: ""
  timeout_seconds: 3
`
