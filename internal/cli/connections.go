package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sourcebridge.dev/internal/config"
)

// newConnectionsCmd groups connector utilities.
func newConnectionsCmd(settings config.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Inspect and test configured connectors",
	}
	cmd.AddCommand(newConnectionsTestCmd(settings))
	return cmd
}

// newConnectionsTestCmd tests one named connector, or all of them.
func newConnectionsTestCmd(settings config.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "test [connector-name]",
		Short: "Test connector credentials against their vendor APIs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			facade := buildFacade(store, settings)

			names := store.Names()
			if len(args) == 1 {
				names = []string{args[0]}
			}
			if len(names) == 0 {
				return fmt.Errorf("no connectors configured in %s", credentialsPath)
			}

			failures := 0
			for _, name := range names {
				conn, err := store.Connector(name)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", name, err)
					failures++
					continue
				}
				ok, message := facade.TestConnection(cmd.Context(), conn)
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "OK    %s (%s)\n", name, conn.Type)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s (%s): %s\n", name, conn.Type, message)
					failures++
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d connector(s) failed", failures)
			}
			return nil
		},
	}
}
