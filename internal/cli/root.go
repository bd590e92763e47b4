package cli

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
	"github.com/wesleyorama2/tsbench/internal/logging"
)

var version = "0.1.0"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "tsbench",
		Short:   "A synthetic write load generator for time-series databases",
		Version: version,
		Long: `tsbench spawns concurrent writers that each generate a fixed number of
records per tick for a fixed number of ticks, sends them to a storage
backend, and then asks the backend how many records it persisted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Configure(opts.logLevel, opts.logFormat, cmd.ErrOrStderr()); err != nil {
				return config.NewConfigError(err)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Configuration file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", logging.FormatText, "Log format: text, json, plain")

	// Unknown or malformed flags are configuration errors
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return config.NewConfigError(err)
	})

	rootCmd.AddCommand(newWriteCmd(opts))
	rootCmd.AddCommand(newSinksCmd())
	rootCmd.AddCommand(newConfigCmd(opts))

	return rootCmd
}

// loadConfig merges defaults, the config file, the environment and flags.
func loadConfig(opts *globalOptions, flags *pflag.FlagSet) (*config.BenchmarkConfig, error) {
	loader := config.NewLoader()
	if err := loader.BindFlags(flags); err != nil {
		return nil, config.NewConfigError(err)
	}
	if opts.configFile != "" {
		if err := loader.ReadFile(opts.configFile); err != nil {
			if config.IsConfigError(err) {
				return nil, err
			}
			return nil, config.NewConfigError(err)
		}
		log.WithField("file", loader.ConfigFileUsed()).Debug("loaded configuration file")
	}
	return loader.Load()
}

// Execute runs the root command with the process arguments.
//
// The returned error is a *config.ConfigError when the invocation or the
// configuration is invalid.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
