package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostprobe/hostprobe/pkg/hostfacts"
)

func newFactsCommand() *cobra.Command {
	var (
		jsonOutput   bool
		perfImpactOK bool
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Collect and print host facts",
		Long: `Collect the facts that drive module pruning and print them.

Facts include the detected distribution, whether the process runs as root,
the first physical network interface driver, the virtualization type, and
whether the host is a cloud instance reachable over the metadata service.`,
		Example: `  # Print the collected facts
  hostprobe facts

  # Print as JSON
  hostprobe facts --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collector := hostfacts.NewCollector(log.Logger)
			facts := collector.Collect(cmd.Context(), perfImpactOK)

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(facts)
			}

			fmt.Fprintf(os.Stdout, "%-24s %s\n", "Distribution:", facts.Distro)
			fmt.Fprintf(os.Stdout, "%-24s %t\n", "Running as root:", facts.Root)
			fmt.Fprintf(os.Stdout, "%-24s %s\n", "Network driver:", facts.NetDriver)
			fmt.Fprintf(os.Stdout, "%-24s %s\n", "Virtualization:", facts.VirtType)
			fmt.Fprintf(os.Stdout, "%-24s %t\n", "Cloud instance:", facts.Instance)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&perfImpactOK, "perf-impact-ok", false, "record performance impact as allowed")

	return cmd
}
