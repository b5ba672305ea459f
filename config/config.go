// Package config builds the runtime configuration from viper-bound flags,
// environment variables and an optional capscan.yaml.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/joncooperworks/capscan/probe"
	"github.com/joncooperworks/capscan/registry"
	"github.com/joncooperworks/capscan/resident"
)

// EnvPrefix prefixes every environment variable, e.g. CAPSCAN_PLUGINS_DIR.
const EnvPrefix = "CAPSCAN"

// Keys.
const (
	KeyPluginsDir         = "plugins_dir"
	KeyPattern            = "pattern"
	KeyScanResident       = "scan_resident"
	KeyExcludePrefixes    = "exclude_prefixes"
	KeyExcludePatterns    = "exclude_patterns"
	KeyIncludeSynthesized = "include_synthesized"
	KeySandbox            = "sandbox"
	KeyProbeTimeout       = "probe_timeout"
	KeyRequireSigned      = "require_signed"
	KeyKeyringService     = "keyring_service"
	KeyLogLevel           = "log_level"
	KeyLogFormat          = "log_format"
)

// Config contains global runtime configuration.
type Config struct {
	PluginsDir     string
	Pattern        string
	ScanResident   bool
	Exclusions     resident.Exclusions
	Sandbox        string
	ProbeTimeout   time.Duration
	RequireSigned  bool
	KeyringService string
	LogLevel       string
	LogFormat      string
}

// SetDefaults installs the default value of every key on v and enables
// environment lookup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPluginsDir, "./plugins")
	v.SetDefault(KeyPattern, registry.DefaultPattern)
	v.SetDefault(KeyScanResident, true)
	v.SetDefault(KeyExcludePrefixes, []string{})
	v.SetDefault(KeyExcludePatterns, []string{})
	v.SetDefault(KeyIncludeSynthesized, false)
	v.SetDefault(KeySandbox, string(probe.ModeProcess))
	v.SetDefault(KeyProbeTimeout, probe.DefaultTimeout)
	v.SetDefault(KeyRequireSigned, false)
	v.SetDefault(KeyKeyringService, "capscan")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// ReadFile reads capscan.yaml from the working directory when present. An
// explicit path must exist.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("capscan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		PluginsDir:   v.GetString(KeyPluginsDir),
		Pattern:      v.GetString(KeyPattern),
		ScanResident: v.GetBool(KeyScanResident),
		Exclusions: resident.Exclusions{
			Prefixes:           v.GetStringSlice(KeyExcludePrefixes),
			Patterns:           v.GetStringSlice(KeyExcludePatterns),
			IncludeSynthesized: v.GetBool(KeyIncludeSynthesized),
		},
		Sandbox:        v.GetString(KeySandbox),
		ProbeTimeout:   v.GetDuration(KeyProbeTimeout),
		RequireSigned:  v.GetBool(KeyRequireSigned),
		KeyringService: v.GetString(KeyKeyringService),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns error if configuration is invalid.
func (c Config) Validate() error {
	if c.PluginsDir == "" {
		return fmt.Errorf("plugins_dir cannot be empty")
	}
	if c.Pattern == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if _, err := probe.ParseMode(c.Sandbox); err != nil {
		return err
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %s", c.ProbeTimeout)
	}
	if c.RequireSigned && c.KeyringService == "" {
		return fmt.Errorf("keyring_service is required when require_signed is set")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (want text or json)", c.LogFormat)
	}
	if _, err := c.Exclusions.Compile(); err != nil {
		return err
	}
	return nil
}

// SandboxMode returns the configured probe sandbox kind.
func (c Config) SandboxMode() probe.Mode {
	mode, _ := probe.ParseMode(c.Sandbox)
	return mode
}

// Logger returns a logger writing to out at the configured level and format.
func (c Config) Logger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
