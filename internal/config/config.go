package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/appmgr/internal/logger"
	apptls "github.com/loykin/appmgr/internal/tls"
	"github.com/spf13/viper"
)

// Defaults match the filesystem layout of the appliance image.
const (
	DefaultManifest        = "/app/manifest.json"
	DefaultAppDir          = "/app"
	DefaultDataDir         = "/data"
	DefaultRunDir          = "/run/app"
	DefaultLogDir          = "/var/log/app"
	DefaultSocket          = "/run/app/app-manager.sock"
	DefaultHealthInterval  = 10 * time.Second
	DefaultStartupTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultStopGrace       = 2 * time.Second
	DefaultRestartSettle   = 1 * time.Second

	envPrefix = "APPMGR"
)

// Config is the daemon configuration. Every field is optional in the file.
type Config struct {
	Manifest        string        `mapstructure:"manifest"`
	AppDir          string        `mapstructure:"app_dir"`
	DataDir         string        `mapstructure:"data_dir"`
	RunDir          string        `mapstructure:"run_dir"`
	Socket          string        `mapstructure:"socket"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StopGrace       time.Duration `mapstructure:"stop_grace"`
	RestartSettle   time.Duration `mapstructure:"restart_settle"`
	Env             []string      `mapstructure:"env"` // extra "K=V" entries for every script

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	History HistoryConfig `mapstructure:"history"`
}

// LogConfig extends the logger settings with the script output file name.
type LogConfig struct {
	logger.Config `mapstructure:",squash"`
	ScriptOutput  string `mapstructure:"script_output"` // file under Dir receiving script stdout/stderr
}

type MetricsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Listen  string        `mapstructure:"listen"` // optional TCP listener, e.g. 127.0.0.1:9108
	TLS     apptls.Config `mapstructure:"tls"`    // serve Listen over HTTPS
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// StartupDir is the directory holding ordered startup scripts.
func (c *Config) StartupDir() string { return filepath.Join(c.AppDir, "startup.d") }

// ShutdownDir is the directory holding ordered shutdown scripts.
func (c *Config) ShutdownDir() string { return filepath.Join(c.AppDir, "shutdown.d") }

func setDefaults(v *viper.Viper) {
	v.SetDefault("manifest", DefaultManifest)
	v.SetDefault("app_dir", DefaultAppDir)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("run_dir", DefaultRunDir)
	v.SetDefault("socket", DefaultSocket)
	v.SetDefault("health_interval", DefaultHealthInterval)
	v.SetDefault("startup_timeout", DefaultStartupTimeout)
	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("stop_grace", DefaultStopGrace)
	v.SetDefault("restart_settle", DefaultRestartSettle)
	v.SetDefault("env", []string{})
	v.SetDefault("log.dir", DefaultLogDir)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.color", false)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.script_output", "scripts.log")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.tls.enabled", false)
	v.SetDefault("metrics.tls.auto_generate", false)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	c, _ := Load("")
	return c
}

// Load reads the TOML config at path. An empty path yields defaults (still
// subject to APPMGR_* environment overrides). A path that cannot be read is an error.
// Relative paths inside the file resolve against the file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		base := filepath.Dir(path)
		for _, p := range []*string{&c.Manifest, &c.AppDir, &c.DataDir, &c.RunDir, &c.Socket, &c.Log.Dir,
			&c.Metrics.TLS.CertFile, &c.Metrics.TLS.KeyFile, &c.Metrics.TLS.Dir} {
			*p = resolve(base, *p)
		}
		if c.History.DSN != "" && !strings.Contains(c.History.DSN, "://") && c.History.DSN != ":memory:" {
			c.History.DSN = resolve(base, c.History.DSN)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Socket) == "" {
		errs = append(errs, errors.New("socket path must not be empty"))
	}
	if c.RunDir == "" {
		errs = append(errs, errors.New("run_dir must not be empty"))
	}
	durations := map[string]time.Duration{
		"health_interval":  c.HealthInterval,
		"startup_timeout":  c.StartupTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
		"stop_grace":       c.StopGrace,
	}
	for k, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", k, d))
		}
	}
	if c.RestartSettle < 0 {
		errs = append(errs, fmt.Errorf("restart_settle must not be negative, got %s", c.RestartSettle))
	}
	if c.Metrics.TLS.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.tls requires metrics.listen"))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}
