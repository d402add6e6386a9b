package main

import (
	"github.com/spf13/cobra"
)

func newToolsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Start a project's tool servers and list their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := c.project()
			if err != nil {
				return err
			}
			phase, list, err := c.app.agent.ProjectTools(cmd.Context(), project)
			if err != nil {
				return err
			}
			c.app.out.Tools(project, phase, list)
			return nil
		},
	}
}

func newClearCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget a project's conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := c.project()
			if err != nil {
				return err
			}
			return c.app.agent.ClearHistory(cmd.Context(), project)
		},
	}
}
