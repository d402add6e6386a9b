package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCostsCmd(c *cli) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show provider usage and cost per day, project and model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive, got %d", days)
			}
			recs, err := c.app.store.CostSummary(cmd.Context(), days)
			if err != nil {
				return err
			}
			c.app.out.Costs(recs, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days to include, today counted")
	return cmd
}
