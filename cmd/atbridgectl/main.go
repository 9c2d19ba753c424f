// atbridgectl queries and drives a running atbridged over its control
// socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"atbridge/internal/config"
	"atbridge/internal/ipc"
)

// Version is set at build time.
var Version = "dev"

type globals struct {
	socket  string
	json    bool
	timeout time.Duration
	out     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globals{out: out}
	cmd := &cobra.Command{
		Use:           "atbridgectl",
		Short:         "Control utility for atbridged",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&g.socket, "socket", "s", config.DefaultSocketPath(), "control socket path")
	cmd.PersistentFlags().BoolVar(&g.json, "json", false, "print responses as JSON")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(
		newStatusCommand(g),
		newHealthCommand(g),
		newFocusCommand(g),
		newAtCommand(g),
		newAppsCommand(g),
		newTreeCommand(g),
		newTextCommand(g),
		newActionsCommand(g),
		newDoCommand(g),
		newWatchCommand(g),
	)
	return cmd
}

// connect dials the daemon and returns a context bounded by the request
// timeout.
func (g *globals) connect(ctx context.Context) (*ipc.IPCClient, error) {
	cfg := ipc.DefaultClientConfig(g.socket)
	cfg.ClientName = "atbridgectl"
	cfg.ClientVersion = Version
	cfg.RequestTimeout = g.timeout
	c, err := ipc.Dial(ctx, cfg)
	if errors.Is(err, ipc.ErrDaemonNotRunning) {
		return nil, fmt.Errorf("%w (start it with: atbridged)", err)
	}
	return c, err
}

// call runs fn with a connected client.
func (g *globals) call(cmd *cobra.Command, fn func(ctx context.Context, c *ipc.IPCClient) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	c, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}
