package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinyrange/vplan/internal/ir"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFilename = "vplanc.yaml"
	CurrentVersion  = 1
)

// Config holds the lowering knobs of vplanc.
type Config struct {
	Version int `yaml:"version"`

	Vectorize VectorizeConfig `yaml:"vectorize"`
	Log       LogConfig       `yaml:"log"`
	Output    OutputConfig    `yaml:"output"`
}

type VectorizeConfig struct {
	// Width is the known minimum number of lanes.
	Width    int  `yaml:"width"`
	Scalable bool `yaml:"scalable,omitempty"`
	Unroll   int  `yaml:"unroll"`

	NativePath       bool `yaml:"nativePath,omitempty"`
	ProfileDebugInfo bool `yaml:"profileDebugInfo,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type OutputConfig struct {
	// Color is one of auto, always or never.
	Color string `yaml:"color"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	if c.Vectorize.Width == 0 {
		c.Vectorize.Width = 4
	}
	if c.Vectorize.Unroll == 0 {
		c.Vectorize.Unroll = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Output.Color == "" {
		c.Output.Color = "auto"
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if c.Vectorize.Width < 1 {
		return fmt.Errorf("vectorize.width must be positive, got %d", c.Vectorize.Width)
	}
	if c.Vectorize.Unroll < 1 {
		return fmt.Errorf("vectorize.unroll must be positive, got %d", c.Vectorize.Unroll)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Output.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("output.color must be auto, always or never, got %q", c.Output.Color)
	}
	return nil
}

// VF returns the configured vector width.
func (c Config) VF() ir.ElementCount {
	if c.Vectorize.Scalable {
		return ir.Scalable(c.Vectorize.Width)
	}
	return ir.Fixed(c.Vectorize.Width)
}

// LogLevel parses log.level.
func (c Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Parse decodes and validates a YAML config.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Write stores c as YAML at path, filling in defaults first.
func Write(path string, c Config) error {
	c.normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}
