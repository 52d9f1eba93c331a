// Package cli wires the agent's commands: MCP serving, the HTTP API with
// cloud polling, one-off task execution, and connector utilities.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sourcebridge.dev/internal/config"
	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
	apisource "sourcebridge.dev/internal/sources/api"
	"sourcebridge.dev/internal/sources/bash"
	"sourcebridge.dev/internal/sources/cloudwatch"
	"sourcebridge.dev/internal/sources/datadog"
	"sourcebridge.dev/internal/sources/github"
	"sourcebridge.dev/internal/sources/grafana"
	"sourcebridge.dev/internal/sources/newrelic"
	"sourcebridge.dev/internal/sources/sentry"
	"sourcebridge.dev/internal/transform"
)

var credentialsPath string

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	settings := config.FromEnv()
	logger.Init(settings.LogLevel, settings.LogFormat)

	root := &cobra.Command{
		Use:           "sourcebridge",
		Short:         "Observability source agent: task execution over vendor APIs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&credentialsPath, "credentials", settings.CredentialsPath,
		"Path to the connector credentials file")

	root.AddCommand(
		newServeCmd(settings),
		newAPICmd(settings),
		newRunCmd(settings),
		newConnectionsCmd(settings),
		newSourcesCmd(settings),
		newInitCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadStore reads the credentials file from the --credentials flag.
func loadStore() (*config.CredentialStore, error) {
	return config.LoadCredentials(credentialsPath)
}

// buildFacade assembles the runner and every source manager into the task
// routing facade.
func buildFacade(store *config.CredentialStore, settings config.Settings) *source.Facade {
	var engine transform.Engine
	if settings.TransformerEngineURL != "" {
		engine = transform.NewHTTPEngine(settings.TransformerEngineURL)
	}
	runner := source.NewRunner(store, engine)
	return source.NewFacade(runner,
		cloudwatch.NewManager(),
		grafana.NewManager(),
		datadog.NewManager(),
		newrelic.NewManager(),
		sentry.NewManager(),
		github.NewManager(),
		apisource.NewManager(),
		bash.NewManager(),
	)
}
