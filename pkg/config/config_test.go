package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neurodesk/viewc/pkg/cache"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viewc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "templates", cfg.Templates.Dir)
	assert.Equal(t, ".tpl", cfg.Templates.Ext)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Lifetime)
	assert.Equal(t, cache.DefaultGCChance, cfg.Cache.GCChance)
	assert.Equal(t, cache.DefaultGCTotal, cfg.Cache.GCTotal)
	assert.Equal(t, uint64(10_000_000), cfg.Engine.MaxSteps)
	assert.Equal(t, 16, cfg.Engine.MaxIncludeDepth)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
templates:
  dir: views
cache:
  backend: file
  dir: /tmp/viewc
  lifetime: 90s
  gc_chance: 5
  gc_total: 10
engine:
  max_steps: 500
log:
  level: debug
  format: json
`)
	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "views", cfg.Templates.Dir)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, "/tmp/viewc", cfg.Cache.Dir)
	assert.Equal(t, 90*time.Second, cfg.Cache.Lifetime)
	assert.Equal(t, 5, cfg.Cache.GCChance)
	assert.Equal(t, 10, cfg.Cache.GCTotal)
	assert.Equal(t, uint64(500), cfg.Engine.MaxSteps)
	assert.Equal(t, 16, cfg.Engine.MaxIncludeDepth)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "cache:\n  backend: file\n")
	t.Setenv("VIEWC_CACHE_BACKEND", "fast")
	t.Setenv("VIEWC_CACHE_LIFETIME", "1h")
	t.Setenv("VIEWC_ENGINE_MAX_INCLUDE_DEPTH", "4")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "fast", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.Lifetime)
	assert.Equal(t, 4, cfg.Engine.MaxIncludeDepth)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown backend", "cache:\n  backend: redis\n", "cache: backend must be one of"},
		{"file without dir", "cache:\n  backend: file\n  dir: \"\"\n", "cache: dir must not be empty"},
		{"negative lifetime", "cache:\n  lifetime: -1s\n", "cache: lifetime must not be negative"},
		{"odds above total", "cache:\n  gc_chance: 3\n  gc_total: 2\n", "cache: gc_chance must be between 0 and 2"},
		{"zero total", "cache:\n  gc_total: 0\n", "cache: gc_total must be positive"},
		{"fast without size", "cache:\n  backend: fast\n  max_bytes: 0\n", "cache: max_bytes must be positive"},
		{"no template dir", "templates:\n  dir: \"\"\n", "templates: dir must not be empty"},
		{"include depth", "engine:\n  max_include_depth: 0\n", "engine: max_include_depth must be positive"},
		{"log level", "log:\n  level: loud\n", "log: level must be one of"},
		{"log format", "log:\n  format: xml\n", "log: format must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(viper.New(), writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestYAMLDump(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "lifetime: 5m0s")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, *cfg, back)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := LogConfig{Level: "warn", Format: "json"}
	logger, err := l.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l = LogConfig{Level: "debug", Format: "text"}
	logger, err = l.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("detail")
	assert.Contains(t, buf.String(), "msg=detail")

	l = LogConfig{Level: "loud"}
	_, err = l.NewLogger(&buf)
	assert.Error(t, err)
}

func TestOpenCache(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := CacheConfig{GCChance: 1, GCTotal: 100, MaxBytes: 1 << 20, Dir: t.TempDir()}

	tests := []struct {
		backend string
		want    any
	}{
		{"memory", &cache.Memory{}},
		{"file", &cache.File{}},
		{"fast", &cache.Fast{}},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cc := base
			cc.Backend = tt.backend
			c, err := cc.Open(logger)
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
			require.NoError(t, c.Set("k", "v", time.Minute))
			got, ok, err := c.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", got)
		})
	}

	cc := base
	cc.Backend = "none"
	c, err := cc.Open(logger)
	require.NoError(t, err)
	assert.Nil(t, c)

	cc.Backend = "redis"
	_, err = cc.Open(logger)
	assert.Error(t, err)
}
