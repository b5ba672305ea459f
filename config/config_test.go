package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncooperworks/capscan/probe"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "./plugins", cfg.PluginsDir)
	assert.Equal(t, "*.wasm", cfg.Pattern)
	assert.True(t, cfg.ScanResident)
	assert.Empty(t, cfg.Exclusions.Prefixes)
	assert.False(t, cfg.Exclusions.IncludeSynthesized)
	assert.Equal(t, probe.ModeProcess, cfg.SandboxMode())
	assert.Equal(t, probe.DefaultTimeout, cfg.ProbeTimeout)
	assert.False(t, cfg.RequireSigned)
	assert.Equal(t, "capscan", cfg.KeyringService)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CAPSCAN_PLUGINS_DIR", "/opt/plugins")
	t.Setenv("CAPSCAN_SANDBOX", "inprocess")
	t.Setenv("CAPSCAN_PROBE_TIMEOUT", "3s")
	t.Setenv("CAPSCAN_SCAN_RESIDENT", "false")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "/opt/plugins", cfg.PluginsDir)
	assert.Equal(t, probe.ModeInProcess, cfg.SandboxMode())
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
	assert.False(t, cfg.ScanResident)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capscan.yaml")
	data := []byte(`plugins_dir: ./ext
exclude_prefixes:
  - debugger.
exclude_patterns:
  - "*.generated"
include_synthesized: true
require_signed: true
log_format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	v := newViper(t)
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "./ext", cfg.PluginsDir)
	assert.Equal(t, []string{"debugger."}, cfg.Exclusions.Prefixes)
	assert.Equal(t, []string{"*.generated"}, cfg.Exclusions.Patterns)
	assert.True(t, cfg.Exclusions.IncludeSynthesized)
	assert.True(t, cfg.RequireSigned)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestReadFile_Missing(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.NoError(t, ReadFile(newViper(t), ""))
	assert.Error(t, ReadFile(newViper(t), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(newViper(t))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty plugins dir", func(c *Config) { c.PluginsDir = "" }},
		{"empty pattern", func(c *Config) { c.Pattern = "" }},
		{"unknown sandbox", func(c *Config) { c.Sandbox = "container" }},
		{"zero timeout", func(c *Config) { c.ProbeTimeout = 0 }},
		{"signed without keyring", func(c *Config) { c.RequireSigned = true; c.KeyringService = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad exclusion pattern", func(c *Config) { c.Exclusions.Patterns = []string{"[oops"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}

	logger := cfg.Logger(&buf)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
