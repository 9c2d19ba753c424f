package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"atbridge/internal/a11y"
	"atbridge/internal/ipc"
)

func newStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, accessibility and capture status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				return g.print(st, func(p *printer) { p.status(st) })
			})
		},
	}
}

func newHealthCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show component health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				rep, err := c.Health(ctx)
				if err != nil {
					return err
				}
				return g.print(rep, func(p *printer) { p.health(rep) })
			})
		},
	}
}

func newFocusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "focus",
		Short: "Show the node holding keyboard focus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				resp, err := c.Focused(ctx)
				if err != nil {
					return err
				}
				return g.print(resp, func(p *printer) { p.nodeResponse(resp, "no focused node") })
			})
		},
	}
}

func newAtCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "at X Y",
		Short: "Show the node at screen coordinates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("x: %w", err)
			}
			y, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("y: %w", err)
			}
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				resp, err := c.AtPoint(ctx, x, y)
				if err != nil {
					return err
				}
				return g.print(resp, func(p *printer) { p.nodeResponse(resp, "nothing at that point") })
			})
		},
	}
}

func newAppsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "apps",
		Aliases: []string{"applications"},
		Short:   "List accessible applications",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				apps, err := c.Applications(ctx)
				if err != nil {
					return err
				}
				return g.print(apps, func(p *printer) { p.apps(apps) })
			})
		},
	}
}

func newTreeCommand(g *globals) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree [BUS PATH]",
		Short: "Print the accessibility tree from the desktop or a node",
		Args:  refArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref a11y.Ref
			if len(args) == 2 {
				ref = a11y.Ref{Bus: args[0], Path: args[1]}
			}
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				resp, err := c.Tree(ctx, ref, depth)
				if err != nil {
					return err
				}
				return g.print(resp, func(p *printer) { p.nodeResponse(resp, "empty tree") })
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", -1, "levels below the root (default: daemon setting)")
	return cmd
}

func newTextCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "text BUS PATH",
		Short: "Print a node's text",
		Args:  refArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := a11y.Ref{Bus: args[0], Path: args[1]}
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				text, err := c.Text(ctx, ref)
				if err != nil {
					return err
				}
				return g.print(ipc.TextResponse{Text: text}, func(p *printer) { p.line(text) })
			})
		},
	}
}

func newActionsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "actions BUS PATH",
		Short: "List a node's actions",
		Args:  refArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := a11y.Ref{Bus: args[0], Path: args[1]}
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				actions, err := c.Actions(ctx, ref)
				if err != nil {
					return err
				}
				return g.print(ipc.ActionsResponse{Actions: actions}, func(p *printer) {
					for i, a := range actions {
						p.line(fmt.Sprintf("%d  %s", i, a))
					}
				})
			})
		},
	}
}

func newDoCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "do BUS PATH ACTION",
		Short: "Invoke a named action on a node",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := a11y.Ref{Bus: args[0], Path: args[1]}
			return g.call(cmd, func(ctx context.Context, c *ipc.IPCClient) error {
				ok, err := c.DoAction(ctx, ref, args[2])
				if err != nil {
					return err
				}
				if err := g.print(ipc.DoActionResponse{Performed: ok}, func(p *printer) {
					if ok {
						p.line("performed " + args[2])
					}
				}); err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("action %q was not performed", args[2])
				}
				return nil
			})
		},
	}
}

func newWatchCommand(g *globals) *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types := make([]ipc.EventType, 0, len(events))
			for _, e := range events {
				t, err := ipc.ParseEventType(e)
				if err != nil {
					return err
				}
				types = append(types, t)
			}
			return g.watch(cmd.Context(), types)
		},
	}
	cmd.Flags().StringSliceVarP(&events, "events", "e", nil, "event types to stream (default: all)")
	return cmd
}

// watch has no overall deadline; it ends when the daemon goes away or ctx
// is cancelled.
func (g *globals) watch(ctx context.Context, types []ipc.EventType) error {
	c, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	subCtx, cancel := context.WithTimeout(ctx, g.timeout)
	sub, err := c.Subscribe(subCtx, types...)
	cancel()
	if err != nil {
		return err
	}
	p := g.printer()
	if !g.json {
		p.dim(fmt.Sprintf("watching %d event types", len(sub.Events)))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.Events():
			if !ok {
				return ipc.ErrConnectionLost
			}
			if g.json {
				if err := p.json(ev); err != nil {
					return err
				}
				continue
			}
			p.event(ev)
		}
	}
}

// refArgs accepts either n arguments or, when n is 0, none or a BUS PATH
// pair.
func refArgs(n int) cobra.PositionalArgs {
	if n == 0 {
		return func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or BUS PATH, got %d", len(args))
			}
			return nil
		}
	}
	return cobra.ExactArgs(n)
}
