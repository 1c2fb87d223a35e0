package config

import (
	"fmt"
	"os"

	"github.com/loomnotes/loom/pkg/canvas"
	"gopkg.in/yaml.v3"
)

// LoomConfig represents the top-level loom.yml configuration
type LoomConfig struct {
	Version string         `yaml:"version"`
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
	Notes   *NotesConfig   `yaml:"notes,omitempty"`
	Tuning  *TuningConfig  `yaml:"tuning,omitempty"`
	User    *UserConfig    `yaml:"user,omitempty"`
}

// RedisConfig specifies how to reach the Redis instance backing canvases
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"` // Default: localhost:6379
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// NotesConfig specifies defaults applied to newly created notes
type NotesConfig struct {
	Width  *int   `yaml:"width,omitempty"`  // Default: 300
	Height *int   `yaml:"height,omitempty"` // Default: 200
	Color  string `yaml:"color,omitempty"`  // Default: "default"
}

// TuningConfig specifies collaboration timing constants, all in milliseconds
type TuningConfig struct {
	CursorThrottleMs     *int `yaml:"cursor_throttle_ms,omitempty"`      // Default: 50
	ContentThrottleMs    *int `yaml:"content_throttle_ms,omitempty"`     // Default: 80
	TextCursorThrottleMs *int `yaml:"text_cursor_throttle_ms,omitempty"` // Default: 50
	EchoWindowMs         *int `yaml:"echo_window_ms,omitempty"`          // Default: 1500
}

// UserConfig specifies an optional fixed identity for this machine.
// When omitted, identity comes from the environment or is generated fresh.
type UserConfig struct {
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// Validate performs strict validation on the configuration and fills in
// defaults for every omitted field.
func (c *LoomConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if c.Notes == nil {
		c.Notes = &NotesConfig{}
	}
	if err := c.Notes.validate(); err != nil {
		return err
	}

	if c.Tuning == nil {
		c.Tuning = &TuningConfig{}
	}
	if err := c.Tuning.validate(); err != nil {
		return err
	}

	return nil
}

func (n *NotesConfig) validate() error {
	if n.Width == nil {
		defaultWidth := 300
		n.Width = &defaultWidth
	}
	if n.Height == nil {
		defaultHeight := 200
		n.Height = &defaultHeight
	}
	if *n.Width < 1 {
		return fmt.Errorf("notes.width must be >= 1, got %d", *n.Width)
	}
	if *n.Height < 1 {
		return fmt.Errorf("notes.height must be >= 1, got %d", *n.Height)
	}

	if n.Color == "" {
		n.Color = string(canvas.ColorDefault)
	}
	if err := canvas.NoteColor(n.Color).Validate(); err != nil {
		return fmt.Errorf("notes.color: %w", err)
	}

	return nil
}

func (t *TuningConfig) validate() error {
	fill := func(field **int, value int) {
		if *field == nil {
			v := value
			*field = &v
		}
	}
	fill(&t.CursorThrottleMs, 50)
	fill(&t.ContentThrottleMs, 80)
	fill(&t.TextCursorThrottleMs, 50)
	fill(&t.EchoWindowMs, 1500)

	check := func(name string, v int) error {
		if v < 1 {
			return fmt.Errorf("tuning.%s must be >= 1, got %d", name, v)
		}
		return nil
	}
	if err := check("cursor_throttle_ms", *t.CursorThrottleMs); err != nil {
		return err
	}
	if err := check("content_throttle_ms", *t.ContentThrottleMs); err != nil {
		return err
	}
	if err := check("text_cursor_throttle_ms", *t.TextCursorThrottleMs); err != nil {
		return err
	}
	if err := check("echo_window_ms", *t.EchoWindowMs); err != nil {
		return err
	}

	return nil
}

// Load reads and validates loom.yml from the specified path
func Load(path string) (*LoomConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config LoomConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a fully defaulted configuration, used when no loom.yml
// exists on disk.
func Default() *LoomConfig {
	config := &LoomConfig{Version: "1.0"}
	// Validate cannot fail on a bare versioned config.
	_ = config.Validate()
	return config
}
