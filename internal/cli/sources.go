package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sourcebridge.dev/internal/config"
)

// newSourcesCmd groups source introspection.
func newSourcesCmd(settings config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect the registered sources",
	}
	cmd.AddCommand(newSourcesListCmd(settings))
	return cmd
}

// newSourcesListCmd prints every source with its task types and how many
// connectors are loaded for it.
func newSourcesListCmd(settings config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sources, their task types, and loaded connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			facade := buildFacade(store, settings)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tCONNECTORS\tTASK TYPE")
			for _, mgr := range facade.Managers() {
				connectorCount := len(store.BySource(mgr.Source()))
				taskTypes := mgr.TaskTypes()
				names := make([]string, 0, len(taskTypes))
				for name := range taskTypes {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(w, "%s\t%d\t%s\n", mgr.Source(), connectorCount, name)
				}
			}
			return w.Flush()
		},
	}
}
