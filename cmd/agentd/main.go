// Command agentd answers requests for configured projects with an LLM that
// can call tools on MCP servers, pausing for human approval where the
// project's phase requires it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c := newCLI()
	err := newRootCmd(c).ExecuteContext(ctx)
	c.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
