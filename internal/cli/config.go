package cli

import (
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/tsbench/internal/benchmark/config"
)

func newConfigCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Merge defaults, the --config file, TSBENCH_* environment variables and the
write flags given here, validate the result, and print it as YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global, cmd.Flags())
			if err != nil {
				return err
			}
			data, err := config.Encode(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	// Accept the same configuration flags as write
	write := newWriteCmd(global)
	for name := range config.FlagKeys {
		if f := write.Flags().Lookup(name); f != nil {
			cmd.Flags().AddFlag(f)
		}
	}
	return cmd
}
