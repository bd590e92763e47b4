package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/tsbench/internal/benchmark/sink"
)

func newSinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sinks",
		Short: "List the supported backend sink types",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			name := color.New(color.FgHiBlue, color.Bold).SprintFunc()
			out := cmd.OutOrStdout()

			for _, t := range sink.SupportedTypes() {
				d, _ := sink.Describe(t)
				fmt.Fprintf(out, "%s  %s\n", name(d.Type), d.Name)
				fmt.Fprintf(out, "    %s\n", d.Description)
				if len(d.UseCases) > 0 {
					fmt.Fprintf(out, "    use for: %s\n", strings.Join(d.UseCases, "; "))
				}
				fmt.Fprintln(out)
			}
		},
	}
}
