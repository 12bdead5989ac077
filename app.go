package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/minios-linux/glossa/config"
	"github.com/minios-linux/glossa/dispatch"
	"github.com/minios-linux/glossa/history"
	"github.com/minios-linux/glossa/i18n"
	"github.com/minios-linux/glossa/keypool"
	"github.com/minios-linux/glossa/logging"
	"github.com/minios-linux/glossa/service"
	"github.com/minios-linux/glossa/settings"
)

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

type globalFlags struct {
	configPath  string
	envFile     string
	endpoint    string
	model       string
	proxy       string
	timeout     time.Duration
	maxAttempts int
	logLevel    string
	logFormat   string
	uiLang      string
	noHistory   bool
}

var flags globalFlags

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flags.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/glossa/glossa.yaml)")
	fs.StringVar(&flags.envFile, "env-file", ".env", "Path to a .env file")
	fs.StringVar(&flags.endpoint, "endpoint", "", "API base URL")
	fs.StringVarP(&flags.model, "model", "m", "", "Model name")
	fs.StringVar(&flags.proxy, "proxy", "", "HTTP/HTTPS proxy URL (default: from environment)")
	fs.DurationVar(&flags.timeout, "timeout", 0, "Timeout of a single API request")
	fs.IntVar(&flags.maxAttempts, "max-attempts", 0, "Attempts per translation, each on a different key")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&flags.logFormat, "log-format", "", "Log format: console or json")
	fs.StringVar(&flags.uiLang, "ui-lang", "", "Language of glossa's own messages (default: from locale)")
	fs.BoolVar(&flags.noHistory, "no-history", false, "Do not record translation history")
}

// applyFlags overrides cfg with every flag set explicitly on the command line.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	setString := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	setString("endpoint", &cfg.Endpoint, flags.endpoint)
	setString("model", &cfg.Model, flags.model)
	setString("proxy", &cfg.Proxy, flags.proxy)
	setString("log-level", &cfg.LogLevel, flags.logLevel)
	setString("log-format", &cfg.LogFormat, flags.logFormat)
	setString("ui-lang", &cfg.UILanguage, flags.uiLang)

	if fs.Changed("timeout") {
		cfg.Timeout = flags.timeout
	}
	if fs.Changed("max-attempts") {
		cfg.MaxAttempts = flags.maxAttempts
	}
	if fs.Changed("no-history") {
		cfg.NoHistory = flags.noHistory
	}
}

// ---------------------------------------------------------------------------
// Application wiring
// ---------------------------------------------------------------------------

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	keys    keypool.KeySource
	pool    *keypool.Pool
	history *history.Store
	svc     *service.Service
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(config.Options{ConfigPath: flags.configPath, EnvFile: flags.envFile})
	if err != nil {
		return nil, err
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	i18n.Init(cfg.UILanguage)

	log, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	keys := keySource(cfg)
	pool := keypool.New(keys)
	if err := pool.Load(); err != nil && !errors.Is(err, keypool.ErrNoCredentialsConfigured) {
		return nil, err
	}

	disp := dispatch.New(pool, dispatch.Options{
		BaseURL:     cfg.Endpoint,
		Model:       cfg.Model,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.Timeout,
		Proxy:       cfg.Proxy,
		Logger:      log,
	})

	a := &app{cfg: cfg, log: log, keys: keys, pool: pool}

	opts := service.Options{Sessions: settings.RecordSession, Logger: log}
	if !cfg.NoHistory {
		dir, err := settings.DataDir()
		if err != nil {
			return nil, err
		}
		store, err := history.Open(filepath.Join(dir, history.FileName))
		if err != nil {
			log.Warn().Err(err).Msg("history unavailable")
		} else {
			a.history = store
			opts.History = store
		}
	}

	a.svc = service.New(pool, disp, opts)
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
}

// targetLanguage picks the explicit language, else the last one used,
// else the configured default.
func (a *app) targetLanguage(explicit string) string {
	if lang := strings.TrimSpace(explicit); lang != "" {
		return lang
	}
	return settings.TargetLanguage(a.cfg.TargetLanguage)
}

// keySource reads stored keys first, then keys from config and environment.
func keySource(cfg *config.Config) keypool.KeySource {
	return keypool.KeySourceFunc(func() ([]string, error) {
		stored, err := settings.APIKeys()
		if err != nil {
			return nil, err
		}
		return mergeKeys(stored, cfg.Keys()), nil
	})
}

func mergeKeys(lists ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, k := range list {
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
	}
	return out
}
