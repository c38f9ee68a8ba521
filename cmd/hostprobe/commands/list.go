package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostprobe/hostprobe/pkg/module"
	"github.com/hostprobe/hostprobe/pkg/registry"
)

func newListCommand() *cobra.Command {
	var (
		class    string
		domain   string
		showHelp bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available diagnostic modules",
		Long: `List the modules found in the module directory.

The S, P, and R columns mark modules that require sudo, impact performance,
and support remediation respectively.`,
		Example: `  # List every module
  hostprobe list

  # List the diagnose-class net modules
  hostprobe list --class diagnose --domain net

  # Show the full help text of every module
  hostprobe list --help-text`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(filepath.Join(modulesDir, "mod.d"), log.Logger)
			if err != nil {
				return fmt.Errorf("failed to load module directory: %w", err)
			}

			mods := reg.Modules()
			if class != "" {
				mods = reg.ByClass(class)
			}
			if domain != "" {
				mods = intersectByDomain(mods, reg.ByDomain(domain))
			}

			if showHelp {
				for _, mod := range mods {
					fmt.Fprintln(os.Stdout, mod.Help())
					fmt.Fprintln(os.Stdout)
				}
				return nil
			}

			fmt.Fprintln(os.Stdout, module.ListHeader)
			for _, mod := range mods {
				fmt.Fprintln(os.Stdout, mod.String())
			}
			fmt.Fprintf(os.Stdout, "\n%d modules\n", len(mods))
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", "", "filter by class")
	cmd.Flags().StringVar(&domain, "domain", "", "filter by domain")
	cmd.Flags().BoolVar(&showHelp, "help-text", false, "print full module help instead of the table")

	return cmd
}

// intersectByDomain keeps the modules of the first list that also appear in
// the second, preserving the first list's order.
func intersectByDomain(mods, inDomain []*module.Module) []*module.Module {
	names := make(map[string]bool, len(inDomain))
	for _, mod := range inDomain {
		names[mod.Name] = true
	}
	out := make([]*module.Module, 0, len(mods))
	for _, mod := range mods {
		if names[mod.Name] {
			out = append(out, mod)
		}
	}
	return out
}
