package main

import (
	"github.com/spf13/cobra"
)

func newApproveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending tool call and resume its run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.resolve(cmd, args[0], true)
		},
	}
}

func newRejectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending tool call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.resolve(cmd, args[0], false)
		},
	}
}

func (c *cli) resolve(cmd *cobra.Command, id string, approve bool) error {
	res, err := c.app.agent.ResolveApproval(cmd.Context(), id, approve)
	if err != nil {
		return err
	}
	c.app.out.Result(res)
	return nil
}

func newPendingCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List pending approvals (all projects unless --project is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reqs, err := c.app.agent.PendingApprovals(cmd.Context(), c.v.GetString("project"))
			if err != nil {
				return err
			}
			c.app.out.Pending(reqs)
			return nil
		},
	}
}
