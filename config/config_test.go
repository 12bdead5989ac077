package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix+"_") {
			key := kv[:strings.IndexByte(kv, '=')]
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxAttempts != 3 || cfg.CaptionTimeout != 15*time.Second || cfg.CaptionDelay != 100*time.Millisecond {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Model != "gemini-2.0-flash-exp" {
		t.Fatalf("Model = %q", cfg.Model)
	}
}

func TestLoadLayering(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, FileName)
	writeFile(t, cfgPath, `
model: gemini-1.5-flash
max_attempts: 5
timeout: 30s
target_language: vi
api_keys:
  - file-key
`)
	envPath := filepath.Join(dir, ".env")
	writeFile(t, envPath, "GLOSSA_MAX_ATTEMPTS=4\nGLOSSA_LOG_FORMAT=json\n")

	t.Setenv("GLOSSA_MAX_ATTEMPTS", "2")
	t.Setenv("GLOSSA_API_KEYS", "env-a, env-b")

	cfg, err := Load(Options{ConfigPath: cfgPath, EnvFile: envPath})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Model != "gemini-1.5-flash" {
		t.Fatalf("Model = %q, want value from file", cfg.Model)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxAttempts != 2 {
		t.Fatalf("MaxAttempts = %d, want the process environment to win", cfg.MaxAttempts)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("LogFormat = %q, want value from .env", cfg.LogFormat)
	}
	if keys := cfg.Keys(); len(keys) != 2 || keys[0] != "env-a" || keys[1] != "env-b" {
		t.Fatalf("Keys() = %v, want [env-a env-b]", keys)
	}
	if cfg.TargetLanguage != "vi" {
		t.Fatalf("TargetLanguage = %q", cfg.TargetLanguage)
	}
}

func TestLoadXDGConfigHome(t *testing.T) {
	clearEnv(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "glossa", FileName), "listen: 127.0.0.1:9999\n")

	cfg, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "none.env")})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9999" {
		t.Fatalf("Listen = %q", cfg.Listen)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("explicit file must exist", func(t *testing.T) {
		clearEnv(t)
		if _, err := Load(Options{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
			t.Fatalf("Load() should fail for a missing explicit config")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), FileName)
		writeFile(t, path, "max_attempts: [oops\n")
		if _, err := Load(Options{ConfigPath: path}); err == nil {
			t.Fatalf("Load() should fail for invalid YAML")
		}
	})

	t.Run("validation", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GLOSSA_LOG_FORMAT", "xml")
		_, err := Load(Options{EnvFile: filepath.Join(t.TempDir(), "none.env")})
		if err == nil || !strings.Contains(err.Error(), "log_format") {
			t.Fatalf("Load() error = %v, want log_format validation failure", err)
		}
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"max attempts":    func(c *Config) { c.MaxAttempts = 0 },
		"timeout":         func(c *Config) { c.Timeout = 0 },
		"caption timeout": func(c *Config) { c.CaptionTimeout = -time.Second },
		"caption delay":   func(c *Config) { c.CaptionDelay = 0 },
		"min runes":       func(c *Config) { c.CaptionMinRunes = 0 },
		"model":           func(c *Config) { c.Model = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() should fail")
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error: %v", err)
	}
}
