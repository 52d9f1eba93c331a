package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const skeletonCredentials = `# Connector credentials. Each block is one named connector; ` + "`type`" + ` picks
# the source and the remaining keys are that source's credential fields.
connectors:
  # my-cloudwatch:
  #   type: cloudwatch
  #   aws_access_key: AKIA...
  #   aws_secret_key: ...
  #   region: us-east-1

  # my-grafana:
  #   type: grafana
  #   grafana_host: https://grafana.example.com
  #   grafana_api_key: glsa_...

  # my-datadog:
  #   type: datadog
  #   dd_api_key: ...
  #   dd_app_key: ...
  #   dd_api_domain: datadoghq.com

  # my-newrelic:
  #   type: new_relic
  #   nr_api_key: NRAK-...
  #   nr_app_id: "1234567"
  #   nr_api_domain: newrelic.com

  # my-sentry:
  #   type: sentry
  #   api_key: ...
  #   org_slug: my-org

  # my-github:
  #   type: github
  #   token: ghp_...
  #   org: my-org

  # my-bastion:
  #   type: bash
  #   remote_host: bastion.example.com
  #   remote_user: ubuntu
  #   remote_password: ...
`

// newInitCmd writes a commented skeleton credentials file.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a skeleton credentials file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(credentialsPath); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", credentialsPath)
				}
			}
			if err := os.WriteFile(credentialsPath, []byte(skeletonCredentials), 0600); err != nil {
				return fmt.Errorf("failed to write credentials file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", credentialsPath)
			fmt.Fprintln(cmd.OutOrStdout(), "Uncomment and fill in the connectors you need, then run: sourcebridge connections test")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
