package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/metrics"
	"codeberg.org/mutker/pvdash/internal/poller"
	"codeberg.org/mutker/pvdash/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultFastIntervalMs = 10000
	DefaultSlowIntervalMs = 300000
	DefaultLogWindowSize  = 288
	DefaultFetchTimeoutMs = 30000
	DefaultListenAddr     = ":8080"
	DefaultLogLevel       = "info"
	DefaultMetricsDB      = "/var/lib/pvdash/metrics.db"

	defaultEnvPrefix  = "PVDASH"
	defaultConfigName = "pvdash"
	pidFileName       = "pvdash.pid"
)

type Config struct {
	FastIntervalMs int    `mapstructure:"fast_interval_ms"`
	SlowIntervalMs int    `mapstructure:"slow_interval_ms"`
	LogWindowSize  int    `mapstructure:"log_window_size"`
	FetchTimeoutMs int    `mapstructure:"fetch_timeout_ms"`
	SourceURL      string `mapstructure:"source_url"`
	LoadPlants     bool   `mapstructure:"load_plants"`
	ListenAddr     string `mapstructure:"listen_addr"`
	LogLevel       string `mapstructure:"log_level"`
	Metrics        bool   `mapstructure:"metrics"`
	MetricsDB      string `mapstructure:"metrics_db"`
	PidFile        string `mapstructure:"pid_file"`
}

// Load reads the configuration from defaults, the config file, the
// environment and args, in increasing order of precedence. args excludes the
// program name. A --help flag yields pflag.ErrHelp.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	for key, flag := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(defaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, configPath(fs, o)); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Usage returns the flag help text.
func Usage() string {
	return newFlagSet().FlagUsages()
}

// flag name by config key
var flagKeys = map[string]string{
	"fast_interval_ms": "fast-interval-ms",
	"slow_interval_ms": "slow-interval-ms",
	"log_window_size":  "log-window-size",
	"fetch_timeout_ms": "fetch-timeout-ms",
	"source_url":       "source-url",
	"load_plants":      "load-plants",
	"listen_addr":      "listen-addr",
	"log_level":        "log-level",
	"metrics":          "metrics",
	"metrics_db":       "metrics-db",
	"pid_file":         "pid-file",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(defaultConfigName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.String("config", "", "Path to the configuration file")
	fs.Int("fast-interval-ms", DefaultFastIntervalMs, "Current reading poll interval in milliseconds")
	fs.Int("slow-interval-ms", DefaultSlowIntervalMs, "Historical log poll interval in milliseconds")
	fs.Int("log-window-size", DefaultLogWindowSize, "Number of log samples requested per plant")
	fs.Int("fetch-timeout-ms", DefaultFetchTimeoutMs, "Timeout for a single fetch in milliseconds")
	fs.String("source-url", "", "Base URL of the telemetry service")
	fs.Bool("load-plants", true, "Load the plant catalog from the telemetry service at startup")
	fs.String("listen-addr", DefaultListenAddr, "Address of the dashboard API")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("metrics", false, "Enable cycle history collection")
	fs.String("metrics-db", DefaultMetricsDB, "Path to the cycle history database")
	fs.String("pid-file", defaultPidFile(), "Path to the PID file")

	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fast_interval_ms", DefaultFastIntervalMs)
	v.SetDefault("slow_interval_ms", DefaultSlowIntervalMs)
	v.SetDefault("log_window_size", DefaultLogWindowSize)
	v.SetDefault("fetch_timeout_ms", DefaultFetchTimeoutMs)
	v.SetDefault("source_url", "")
	v.SetDefault("load_plants", true)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", DefaultMetricsDB)
	v.SetDefault("pid_file", defaultPidFile())
}

func defaultPidFile() string {
	return filepath.Join(os.TempDir(), pidFileName)
}

func configPath(fs *pflag.FlagSet, o options) string {
	if path, _ := fs.GetString("config"); path != "" {
		return path
	}
	if o.configPath != "" {
		return o.configPath
	}
	return os.Getenv(defaultEnvPrefix + "_CONFIG")
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType("toml")
	v.AddConfigPath("/etc/pvdash")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.FastIntervalMs <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			Key   string
			Value int
		}{Key: "fast_interval_ms", Value: c.FastIntervalMs})
	}
	if c.SlowIntervalMs <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			Key   string
			Value int
		}{Key: "slow_interval_ms", Value: c.SlowIntervalMs})
	}
	if c.FetchTimeoutMs < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			Key   string
			Value int
		}{Key: "fetch_timeout_ms", Value: c.FetchTimeoutMs})
	}
	if c.LogWindowSize < 0 {
		return errFactory.WithData(errors.ErrInvalidWindow, c.LogWindowSize)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if strings.TrimSpace(c.SourceURL) == "" {
		return errFactory.New(errors.ErrMissingSource)
	}
	if c.Metrics && c.MetricsDB == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "metrics_db is required when metrics is enabled")
	}
	return nil
}

func (c *Config) PollerConfig() poller.Config {
	return poller.Config{
		FastInterval: time.Duration(c.FastIntervalMs) * time.Millisecond,
		SlowInterval: time.Duration(c.SlowIntervalMs) * time.Millisecond,
		FetchTimeout: time.Duration(c.FetchTimeoutMs) * time.Millisecond,
	}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.BaseURL = c.SourceURL
	cfg.LogWindow = c.LogWindowSize
	cfg.Timeout = time.Duration(c.FetchTimeoutMs) * time.Millisecond
	return cfg
}

func (c *Config) MetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = c.Metrics
	cfg.DBPath = c.MetricsDB
	return cfg
}
