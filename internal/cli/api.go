package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sourcebridge.dev/internal/cloud"
	"sourcebridge.dev/internal/config"
	"sourcebridge.dev/internal/extractor"
	"sourcebridge.dev/internal/httpapi"
	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/poller"
)

// newAPICmd runs the HTTP API plus the cloud polling loops when a cloud
// host is configured.
func newAPICmd(settings config.Settings) *cobra.Command {
	var addr string
	var disablePolling bool

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API and the cloud polling loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			facade := buildFacade(store, settings)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return httpapi.NewServer(facade, store).ListenAndServe(gctx, addr)
			})

			if !disablePolling && settings.CloudAPIHost != "" {
				client, err := cloud.NewClient(settings.CloudAPIHost, settings.CloudAPIToken)
				if err != nil {
					return err
				}
				extractorFacade := extractor.NewFacade(client,
					extractor.NewCloudwatchExtractor(),
					extractor.NewGrafanaExtractor(),
				)
				g.Go(func() error {
					poller.New(client, facade, store, extractorFacade, settings.PollInterval).Run(gctx)
					return nil
				})
				logger.L().Info("cloud polling enabled", "host", settings.CloudAPIHost)
			} else {
				logger.L().Info("cloud polling disabled")
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", settings.HTTPListenAddr, "HTTP API listen address")
	cmd.Flags().BoolVar(&disablePolling, "no-polling", false, "Disable the cloud polling loops")
	return cmd
}
