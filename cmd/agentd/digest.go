package main

import (
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/agentd/internal/agent"
)

func newDigestCmd(c *cli) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Run a daily plan, weekly plan or weekly report",
		Long: `Ask the project's agent for a proactive report and print it.

  daily   plan for today
  weekly  plan for the current week
  report  summary of this week's work
  plan    weekly on Mondays, daily otherwise

Run it from cron or a systemd timer to schedule it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := agent.ParseDigestKind(kind)
			if err != nil {
				return err
			}
			project, err := c.project()
			if err != nil {
				return err
			}
			res, err := c.app.agent.Digest(cmd.Context(), project, k)
			if err != nil {
				return err
			}
			c.app.out.Result(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(agent.DigestPlan), "daily, weekly, report or plan")
	return cmd
}
