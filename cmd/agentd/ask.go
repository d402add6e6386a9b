package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a message to a project's agent",
		Long:  "Send a message to a project's agent and print the answer. The message is read from stdin when no arguments are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := c.project()
			if err != nil {
				return err
			}

			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read message: %w", err)
				}
				message = strings.TrimSpace(string(data))
			}
			if message == "" {
				return errors.New("message is empty")
			}

			res, err := c.app.agent.Run(cmd.Context(), project, message)
			if err != nil {
				return err
			}
			c.app.out.Result(res)
			return nil
		},
	}
}
