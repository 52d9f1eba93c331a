package cli

import (
	"github.com/spf13/cobra"

	"sourcebridge.dev/internal/config"
	"sourcebridge.dev/internal/mcp"
)

// newServeCmd serves the source registry over MCP, stdio by default.
func newServeCmd(settings config.Settings) *cobra.Command {
	var httpMode bool
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve source task types as MCP tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			facade := buildFacade(store, settings)
			server := mcp.NewServer(facade, store, cmd.Root().Version)
			if httpMode {
				return server.ServeHTTP(addr)
			}
			return server.Serve()
		},
	}

	cmd.Flags().BoolVar(&httpMode, "http", false, "Serve over StreamableHTTP instead of stdio")
	cmd.Flags().StringVar(&addr, "addr", settings.MCPListenAddr, "Listen address for --http mode")
	return cmd
}
