package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// skipWire marks commands that run without configuration.
const skipWire = "skip-wire"

type wireFunc func(ctx context.Context, v *viper.Viper, stdout, stderr io.Writer) (*app, error)

// cli carries flag state and the lazily wired app between cobra hooks.
type cli struct {
	v    *viper.Viper
	wire wireFunc
	app  *app
}

func newCLI() *cli {
	v := viper.New()
	v.SetEnvPrefix("AGENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &cli{v: v, wire: wireApp}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "agentd",
		Short:         "Tool-using LLM agent for your projects",
		Long:          "agentd answers requests for a configured project, calling Gmail, Calendar, Jira, Telegram and other MCP tool servers within the project's phase, and pauses for approval before outbound or destructive actions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := cmd.Annotations[skipWire]; ok || c.app != nil {
				return nil
			}
			a, err := c.wire(cmd.Context(), c.v, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: agentd.yaml, .agentd/config.yaml, ~/.config/agentd/config.yaml)")
	flags.StringP("project", "p", "", "project id")
	flags.String("model", "", "override the default model")
	flags.String("log-level", "", "console log level (debug, info, warn, error)")
	flags.Bool("debug", false, "enable event tracing")
	for _, name := range []string{"config", "project", "model", "log-level", "debug"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAskCmd(c),
		newApproveCmd(c),
		newRejectCmd(c),
		newPendingCmd(c),
		newToolsCmd(c),
		newCostsCmd(c),
		newClearCmd(c),
		newDigestCmd(c),
	)
	return rootCmd
}

func (c *cli) close() {
	if c.app != nil {
		c.app.close()
		c.app = nil
	}
}

// project resolves --project, falling back to the only configured project.
func (c *cli) project() (string, error) {
	if id := c.v.GetString("project"); id != "" {
		return id, nil
	}
	ids := c.app.settings.ProjectIDs()
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no projects configured")
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("--project is required, one of: %s", strings.Join(ids, ", "))
	}
}
