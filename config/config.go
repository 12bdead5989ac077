// Package config loads glossa's runtime configuration.
//
// Sources, lowest priority first:
//  1. built-in defaults
//  2. glossa.yaml (--config, else $XDG_CONFIG_HOME/glossa/glossa.yaml)
//  3. a .env file (never overrides variables already set)
//  4. GLOSSA_* environment variables
//
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GLOSSA"
	// FileName is the configuration file name.
	FileName = "glossa.yaml"
)

// Config is the merged configuration. Field names double as environment
// keys: MaxAttempts is read from GLOSSA_MAX_ATTEMPTS.
type Config struct {
	// APIKeys are used in addition to keys saved with "glossa keys add".
	APIKeys []string `yaml:"api_keys,omitempty" split_words:"true"`

	Endpoint    string        `yaml:"endpoint,omitempty" split_words:"true"`
	Model       string        `yaml:"model,omitempty" split_words:"true"`
	MaxAttempts int           `yaml:"max_attempts,omitempty" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout,omitempty" split_words:"true"`
	Proxy       string        `yaml:"proxy,omitempty" split_words:"true"`

	// TargetLanguage is used when no language is given and none was saved.
	TargetLanguage string `yaml:"target_language,omitempty" split_words:"true"`

	CaptionTimeout  time.Duration `yaml:"caption_timeout,omitempty" split_words:"true"`
	CaptionDelay    time.Duration `yaml:"caption_delay,omitempty" split_words:"true"`
	CaptionMinRunes int           `yaml:"caption_min_runes,omitempty" split_words:"true"`

	// Listen is the address of the local HTTP daemon.
	Listen string `yaml:"listen,omitempty" split_words:"true"`

	LogFormat string `yaml:"log_format,omitempty" split_words:"true"`
	LogLevel  string `yaml:"log_level,omitempty" split_words:"true"`

	// UILanguage selects the language of glossa's own messages.
	UILanguage string `yaml:"ui_language,omitempty" split_words:"true"`

	NoHistory bool `yaml:"no_history,omitempty" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Endpoint:        "https://generativelanguage.googleapis.com",
		Model:           "gemini-2.0-flash-exp",
		MaxAttempts:     3,
		Timeout:         60 * time.Second,
		TargetLanguage:  "en",
		CaptionTimeout:  15 * time.Second,
		CaptionDelay:    100 * time.Millisecond,
		CaptionMinRunes: 2,
		Listen:          "127.0.0.1:8765",
		LogFormat:       "console",
		LogLevel:        "warn",
	}
}

// Options selects the files Load reads. Empty fields use the defaults.
type Options struct {
	// ConfigPath is an explicit glossa.yaml; it must exist.
	ConfigPath string
	// EnvFile is a .env file; a missing file is ignored.
	EnvFile string
}

// DefaultPath returns $XDG_CONFIG_HOME/glossa/glossa.yaml, falling back to
// ~/.config/glossa/glossa.yaml.
func DefaultPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "glossa", FileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "glossa", FileName), nil
}

// Load merges all configuration sources and validates the result.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path, explicit := opts.ConfigPath, opts.ConfigPath != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := cfg.mergeFile(path, explicit); err != nil {
		return nil, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("reading %s_* environment: %w", EnvPrefix, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// mergeFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.CaptionTimeout <= 0 {
		return fmt.Errorf("caption_timeout must be positive")
	}
	if c.CaptionDelay <= 0 {
		return fmt.Errorf("caption_delay must be positive")
	}
	if c.CaptionMinRunes < 1 {
		return fmt.Errorf("caption_min_runes must be >= 1")
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// Keys returns the configured API keys with blanks and duplicates removed.
func (c *Config) Keys() []string {
	out := make([]string, 0, len(c.APIKeys))
	seen := make(map[string]struct{}, len(c.APIKeys))
	for _, k := range c.APIKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
