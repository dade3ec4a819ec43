// Package config loads viewc settings from a YAML file and VIEWC_*
// environment variables using viper.
//
// Every key has a default, so a missing config file is not an error. An
// environment variable overrides the file: cache.lifetime is read from
// VIEWC_CACHE_LIFETIME.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/neurodesk/viewc/pkg/cache"
	"github.com/neurodesk/viewc/pkg/validator"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix  = "VIEWC"
	ConfigName = "viewc"
)

var (
	CacheBackends = []string{"memory", "file", "fast", "none"}
	LogLevels     = []string{"debug", "info", "warn", "error"}
	LogFormats    = []string{"text", "json"}
)

type Config struct {
	Templates TemplatesConfig `mapstructure:"templates" yaml:"templates"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type TemplatesConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	Ext string `mapstructure:"ext" yaml:"ext"`
}

type CacheConfig struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"`
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Lifetime time.Duration `mapstructure:"lifetime" yaml:"lifetime"`
	GCChance int           `mapstructure:"gc_chance" yaml:"gc_chance"`
	GCTotal  int           `mapstructure:"gc_total" yaml:"gc_total"`
	MaxBytes int           `mapstructure:"max_bytes" yaml:"max_bytes"`
}

type EngineConfig struct {
	MaxSteps        uint64 `mapstructure:"max_steps" yaml:"max_steps"`
	MaxIncludeDepth int    `mapstructure:"max_include_depth" yaml:"max_include_depth"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers a default for every key. viper only applies
// environment overrides to keys it knows about, so this must run before
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.ext", ".tpl")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.dir", ".viewc/cache")
	v.SetDefault("cache.lifetime", "5m")
	v.SetDefault("cache.gc_chance", cache.DefaultGCChance)
	v.SetDefault("cache.gc_total", cache.DefaultGCTotal)
	v.SetDefault("cache.max_bytes", 32<<20)
	v.SetDefault("engine.max_steps", 10_000_000)
	v.SetDefault("engine.max_include_depth", 16)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads path, or ./viewc.yaml when path is empty, applies environment
// overrides and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return validator.All(
		validator.Section("templates", &c.Templates),
		validator.Section("cache", &c.Cache),
		validator.Section("engine", &c.Engine),
		validator.Section("log", &c.Log),
	)
}

func (t *TemplatesConfig) Validate() error {
	return validator.NotEmpty(t.Dir, "dir")
}

func (c *CacheConfig) Validate() error {
	return validator.All(
		validator.MatchesAllowed(c.Backend, CacheBackends, "backend"),
		validator.When(c.Backend == "file", func() error { return validator.NotEmpty(c.Dir, "dir") }),
		validator.NonNegative(c.Lifetime, "lifetime"),
		validator.Positive(c.GCTotal, "gc_total"),
		validator.Range(c.GCChance, 0, c.GCTotal, "gc_chance"),
		validator.When(c.Backend == "fast", func() error { return validator.Positive(c.MaxBytes, "max_bytes") }),
	)
}

func (e *EngineConfig) Validate() error {
	return validator.Positive(e.MaxIncludeDepth, "max_include_depth")
}

func (l *LogConfig) Validate() error {
	return validator.All(
		validator.MatchesAllowed(l.Level, LogLevels, "level"),
		validator.MatchesAllowed(l.Format, LogFormats, "format"),
	)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// NewLogger builds a text or JSON slog logger writing to w.
func (l *LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Open builds the configured cache backend. The "none" backend yields a
// nil cache.
func (c *CacheConfig) Open(logger *slog.Logger) (cache.Cache, error) {
	opts := []cache.Option{cache.WithGC(c.GCChance, c.GCTotal), cache.WithLogger(logger)}
	switch c.Backend {
	case "none":
		return nil, nil
	case "memory":
		return cache.NewMemory(opts...), nil
	case "file":
		return cache.NewFile(c.Dir, opts...)
	case "fast":
		return cache.NewFast(c.MaxBytes, opts...), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}
