// Package config loads todomd settings.
//
// Precedence, lowest first: built-in defaults, the YAML config file,
// environment variables, command-line flags. Environment variables use the
// TODOMD_ prefix with dots replaced by underscores (TODOMD_GIT_AUTO_PUSH),
// and the unprefixed names of earlier releases (PORT, DATA_DIR,
// GIT_AUTO_PUSH, ...) are still honored.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up when no explicit path is given.
const FileName = "todomd.yaml"

// MinPollInterval is the smallest accepted git poll interval.
const MinPollInterval = 250 * time.Millisecond

// Config is the full set of settings.
type Config struct {
	Port       int    `mapstructure:"port" yaml:"port"`
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	DBFile     string `mapstructure:"db_file" yaml:"db_file"`
	CASDir     string `mapstructure:"cas_dir" yaml:"cas_dir"`
	ShadowPath string `mapstructure:"shadow_path" yaml:"shadow_path"`
	SpecifyDir string `mapstructure:"specify_dir" yaml:"specify_dir"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
	Git GitConfig `mapstructure:"git" yaml:"git"`
}

// LogConfig controls the log file. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// GitConfig controls the git sync worker.
type GitConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	RepoRoot        string        `mapstructure:"repo_root" yaml:"repo_root"`
	Branch          string        `mapstructure:"branch" yaml:"branch"`
	Remote          string        `mapstructure:"remote" yaml:"remote"`
	CommitOnWrite   bool          `mapstructure:"commit_on_write" yaml:"commit_on_write"`
	AutoPush        bool          `mapstructure:"auto_push" yaml:"auto_push"`
	Signoff         bool          `mapstructure:"signoff" yaml:"signoff"`
	MessageTemplate string        `mapstructure:"message_template" yaml:"message_template"`
	Debounce        time.Duration `mapstructure:"debounce" yaml:"-"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"-"`
}

// MarshalYAML writes durations as strings such as "2s".
func (g GitConfig) MarshalYAML() (any, error) {
	type plain GitConfig
	return struct {
		plain        `yaml:",inline"`
		Debounce     string `yaml:"debounce"`
		PollInterval string `yaml:"poll_interval"`
	}{plain(g), g.Debounce.String(), g.PollInterval.String()}, nil
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:       8765,
		DataDir:    "data",
		DBFile:     "todo.db",
		SpecifyDir: ".specify",
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Git: GitConfig{
			Enabled:         true,
			Remote:          "origin",
			CommitOnWrite:   true,
			Signoff:         true,
			MessageTemplate: "chore(todos): {summary}\n\nRefs: {taskIds}\n\n{signoff}",
			Debounce:        2 * time.Second,
			PollInterval:    2 * time.Second,
		},
	}
}

// legacyEnv maps config keys to the unprefixed variables of earlier
// releases.
var legacyEnv = map[string]string{
	"port":                 "PORT",
	"data_dir":             "DATA_DIR",
	"shadow_path":          "SHADOW_PATH",
	"specify_dir":          "SPECIFY_DIR",
	"git.repo_root":        "GIT_REPO_ROOT",
	"git.branch":           "GIT_BRANCH",
	"git.remote":           "GIT_REMOTE",
	"git.commit_on_write":  "GIT_COMMIT_ON_WRITE",
	"git.auto_push":        "GIT_AUTO_PUSH",
	"git.message_template": "GIT_COMMIT_TEMPLATE",
	"git.signoff":          "GIT_SIGNOFF",
	"git.debounce_ms":      "GIT_DEBOUNCE_MS",
	"git.poll_interval_ms": "GIT_POLL_INTERVAL_MS",
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"port":     "port",
	"data-dir": "data_dir",
	"repo":     "git.repo_root",
	"branch":   "git.branch",
	"no-git":   "git.disabled",
	"log-file": "log.file",
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("port", d.Port)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_file", d.DBFile)
	v.SetDefault("cas_dir", d.CASDir)
	v.SetDefault("shadow_path", d.ShadowPath)
	v.SetDefault("specify_dir", d.SpecifyDir)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("git.enabled", d.Git.Enabled)
	v.SetDefault("git.disabled", false)
	v.SetDefault("git.repo_root", d.Git.RepoRoot)
	v.SetDefault("git.branch", d.Git.Branch)
	v.SetDefault("git.remote", d.Git.Remote)
	v.SetDefault("git.commit_on_write", d.Git.CommitOnWrite)
	v.SetDefault("git.auto_push", d.Git.AutoPush)
	v.SetDefault("git.signoff", d.Git.Signoff)
	v.SetDefault("git.message_template", d.Git.MessageTemplate)
	v.SetDefault("git.debounce", d.Git.Debounce.String())
	v.SetDefault("git.poll_interval", d.Git.PollInterval.String())
	v.SetDefault("git.debounce_ms", 0)
	v.SetDefault("git.poll_interval_ms", 0)
}

// Load reads settings from path, or from FileName in the working directory
// or ~/.config/todomd when path is empty. A missing default file is not an
// error; a missing explicit one is. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "todomd"))
		}
	}

	v.SetEnvPrefix("TODOMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		envKey := "TODOMD_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		_ = v.BindEnv(key, envKey, env)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if ms := v.GetInt("git.debounce_ms"); ms > 0 {
		cfg.Git.Debounce = time.Duration(ms) * time.Millisecond
	}
	if ms := v.GetInt("git.poll_interval_ms"); ms > 0 {
		cfg.Git.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if v.GetBool("git.disabled") {
		cfg.Git.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.DBFile == "" {
		return fmt.Errorf("db_file cannot be empty")
	}
	if c.Git.Debounce < 0 {
		return fmt.Errorf("git.debounce cannot be negative")
	}
	if c.Git.PollInterval < 0 {
		return fmt.Errorf("git.poll_interval cannot be negative")
	}
	return nil
}

// DBPath returns the database file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

// BlobDir returns the blob directory, defaulting to <data_dir>/cas.
func (c *Config) BlobDir() string {
	if c.CASDir != "" {
		return c.CASDir
	}
	return filepath.Join(c.DataDir, "cas")
}

// Shadow returns the shadow document path, defaulting to
// <data_dir>/shadow/TODO.shadow.md.
func (c *Config) Shadow() string {
	if c.ShadowPath != "" {
		return c.ShadowPath
	}
	return filepath.Join(c.DataDir, "shadow", "TODO.shadow.md")
}

// RepoRoot returns the git working directory, defaulting to the current
// directory.
func (c *Config) RepoRoot() string {
	if c.Git.RepoRoot != "" {
		return c.Git.RepoRoot
	}
	return "."
}

// EffectivePollInterval applies the 250ms floor.
func (c *Config) EffectivePollInterval() time.Duration {
	if c.Git.PollInterval > 0 && c.Git.PollInterval < MinPollInterval {
		return MinPollInterval
	}
	return c.Git.PollInterval
}

// WriteDefault writes the default settings as YAML to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "# todomd configuration"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return enc.Close()
}
