// Command capscan discovers PluginOne and PluginTwo implementations among the
// host's resident modules and a directory of wasm plugins, and runs them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joncooperworks/capscan/config"
	"github.com/joncooperworks/capscan/metrics"
	"github.com/joncooperworks/capscan/plugin"
	"github.com/joncooperworks/capscan/probe"
	"github.com/joncooperworks/capscan/registry"
	"github.com/joncooperworks/capscan/trust"
)

var (
	cfg    config.Config
	logger = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:          "capscan",
	Short:        "Discover and run plugin implementations",
	Long:         "capscan finds every implementation of the PluginOne and PluginTwo contracts among the resident modules and the wasm modules in a plugin directory. Candidates are inspected in a disposable sandbox and only loaded when used.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if err := config.ReadFile(viper.GetViper(), path); err != nil {
			return err
		}
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded
		logger = cfg.Logger(os.Stderr)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default ./capscan.yaml if present)")
	flags.String("plugins-dir", "./plugins", "Directory scanned for plugin modules")
	flags.String("pattern", registry.DefaultPattern, "File name pattern of candidate modules")
	flags.Bool("scan-resident", true, "Include resident modules")
	flags.StringSlice("exclude-prefix", nil, "Resident module name prefixes to skip")
	flags.StringSlice("exclude-pattern", nil, "Resident module name globs to skip")
	flags.Bool("include-synthesized", false, "Include synthesized resident modules")
	flags.String("sandbox", string(probe.ModeProcess), "Probe sandbox (process|inprocess)")
	flags.Duration("probe-timeout", probe.DefaultTimeout, "Inspection timeout per module")
	flags.Bool("require-signed", false, "Only inspect modules signed by a trusted publisher")
	flags.String("keyring-service", "capscan", "Keyring service holding publisher keys")
	flags.String("log-level", "info", "Log level (debug|info|warn|error)")
	flags.String("log-format", "text", "Log format (text|json)")

	// Bind flags to Viper.
	bind := map[string]string{
		config.KeyPluginsDir:         "plugins-dir",
		config.KeyPattern:            "pattern",
		config.KeyScanResident:       "scan-resident",
		config.KeyExcludePrefixes:    "exclude-prefix",
		config.KeyExcludePatterns:    "exclude-pattern",
		config.KeyIncludeSynthesized: "include-synthesized",
		config.KeySandbox:            "sandbox",
		config.KeyProbeTimeout:       "probe-timeout",
		config.KeyRequireSigned:      "require-signed",
		config.KeyKeyringService:     "keyring-service",
		config.KeyLogLevel:           "log-level",
		config.KeyLogFormat:          "log-format",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(menuCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(probeCmd)
}

// newRegistry builds a registry from the loaded configuration.
func newRegistry(m *metrics.Scan) (*registry.Registry, error) {
	opts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithPattern(cfg.Pattern),
		registry.WithResidentScan(cfg.ScanResident),
		registry.WithExclusions(cfg.Exclusions),
		registry.WithSandboxOptions(
			probe.WithMode(cfg.SandboxMode()),
			probe.WithTimeout(cfg.ProbeTimeout),
		),
		registry.WithMetrics(m),
	}

	if cfg.RequireSigned {
		store, err := openStore()
		if err != nil {
			return nil, err
		}
		opts = append(opts, registry.WithVerifier(trust.NewSignatureVerifier(store)))
	}

	return registry.New(opts...)
}

// discover runs one scan of the configured plugin directory.
func discover(ctx context.Context, r *registry.Registry) (*registry.Snapshot, error) {
	snap, err := r.Discover(ctx, cfg.PluginsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", cfg.PluginsDir, err)
	}
	return snap, nil
}

// pluginOneAction and pluginTwoAction are the primary actions run from run
// and menu.
func pluginOneAction(ctx context.Context, p plugin.PluginOne) error {
	logger.WithField("plugin", p.Name()).Info("running plugin")
	return p.DoTheThing(ctx)
}

func pluginTwoAction(ctx context.Context, p plugin.PluginTwo) error {
	logger.WithField("plugin", p.Name()).Info("running plugin")
	return p.Execute(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
