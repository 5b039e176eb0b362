package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/menta2k/upscale-images/pkg/processing"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment variables overriding the config.
const EnvPrefix = "UPSCALE"

// Config holds the application configuration
type Config struct {
	Sizes      []SizeConfig     `json:"sizes" mapstructure:"sizes"`
	Output     OutputConfig     `json:"output" mapstructure:"output"`
	Processing ProcessingConfig `json:"processing" mapstructure:"processing"`
}

// SizeConfig is a named target size. A zero dimension is derived from the
// other one and the source aspect ratio.
type SizeConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	Width  int    `json:"width" mapstructure:"width"`
	Height int    `json:"height" mapstructure:"height"`
	Crop   bool   `json:"crop" mapstructure:"crop"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format    string `json:"format" mapstructure:"format"`
	Quality   int    `json:"quality" mapstructure:"quality"`
	Lossless  bool   `json:"lossless" mapstructure:"lossless"`
	OutputDir string `json:"output_dir" mapstructure:"output_dir"`
}

// ProcessingConfig holds configuration for the resize pipeline
type ProcessingConfig struct {
	Workers int    `json:"workers" mapstructure:"workers"`
	Filter  string `json:"filter" mapstructure:"filter"`
	Upscale bool   `json:"upscale" mapstructure:"upscale"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Sizes: []SizeConfig{
			{Name: "thumbnail", Width: 150, Height: 150, Crop: true},
			{Name: "medium", Width: 300, Height: 300},
			{Name: "large", Width: 1024, Height: 1024},
		},
		Output: OutputConfig{
			Format:    "jpg",
			Quality:   90,
			OutputDir: "./output",
		},
		Processing: ProcessingConfig{
			Workers: processing.DefaultWorkers,
			Filter:  processing.DefaultFilter,
			Upscale: true,
		},
	}
}

// NewViper returns a viper instance seeded with the defaults and bound to
// UPSCALE_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	def := Default()

	v.SetDefault("sizes", def.Sizes)
	v.SetDefault("output.format", def.Output.Format)
	v.SetDefault("output.quality", def.Output.Quality)
	v.SetDefault("output.lossless", def.Output.Lossless)
	v.SetDefault("output.output_dir", def.Output.OutputDir)
	v.SetDefault("processing.workers", def.Processing.Workers)
	v.SetDefault("processing.filter", def.Processing.Filter)
	v.SetDefault("processing.upscale", def.Processing.Upscale)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges the configuration file at path (json, yaml or toml) into
// v. Environment variables still take precedence over the file.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// FromViper decodes and validates the configuration held by v. It is the
// only way a Config is loaded, so every loaded Config has been validated.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToFile writes c as indented JSON, creating the parent directory.
func (c *Config) SaveToFile(fs afero.Fs, path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return afero.WriteFile(fs, path, append(data, '\n'), 0o644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Sizes) == 0 {
		return fmt.Errorf("%w: sizes cannot be empty", ErrInvalid)
	}

	seen := make(map[string]bool, len(c.Sizes))
	for i, s := range c.Sizes {
		if s.Name == "" {
			return fmt.Errorf("%w: sizes[%d].name cannot be empty", ErrInvalid, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate size %q", ErrInvalid, s.Name)
		}
		seen[s.Name] = true

		if s.Width < 0 || s.Height < 0 {
			return fmt.Errorf("%w: size %q has negative dimensions", ErrInvalid, s.Name)
		}
		if s.Width == 0 && s.Height == 0 {
			return fmt.Errorf("%w: size %q needs a width or a height", ErrInvalid, s.Name)
		}
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("%w: output.quality must be between 1 and 100", ErrInvalid)
	}
	if !processing.IsSupportedFormat(c.Output.Format) {
		return fmt.Errorf("%w: unsupported output.format %q", ErrInvalid, c.Output.Format)
	}

	if c.Processing.Workers < 1 {
		return fmt.Errorf("%w: processing.workers must be positive", ErrInvalid)
	}
	if !processing.IsKnownFilter(c.Processing.Filter) {
		return fmt.Errorf("%w: unknown processing.filter %q", ErrInvalid, c.Processing.Filter)
	}

	return nil
}

// Size returns the size with the given name.
func (c *Config) Size(name string) (SizeConfig, bool) {
	for _, s := range c.Sizes {
		if s.Name == name {
			return s, true
		}
	}
	return SizeConfig{}, false
}

// Only narrows c.Sizes to the named sizes, in the given order.
func (c *Config) Only(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	sizes := make([]SizeConfig, 0, len(names))
	for _, name := range names {
		s, ok := c.Size(name)
		if !ok {
			return fmt.Errorf("%w: unknown size %q", ErrInvalid, name)
		}
		sizes = append(sizes, s)
	}
	c.Sizes = sizes
	return c.Validate()
}

// DefaultPath is where the CLI looks for a config file when none is given:
// upscale-images/config.json below the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(dir, "upscale-images", "config.json")
}
