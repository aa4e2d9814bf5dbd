package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"stitch/internal/config"
	"stitch/internal/infrastructure"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "stitch",
	Short: "Link daily contextual data to survey records with n-day lags",
	Long: `stitch attaches time- and place-indexed contextual measurements
(heat index, PM2.5, ...) to survey interviews for every day before the
interview, one column per lag, and writes the result as one wide table.`,
	Version:       infrastructure.ServiceVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("stitch version {{.Version}}\n")
	rootCmd.SetGlobalNormalizationFunc(underscoreToDash)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"YAML configuration file; flags override it, it overrides STITCH_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: json or text")
}

// underscoreToDash accepts --output_name for --output-name.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// loadConfig loads env and file configuration and applies the logging
// flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}
