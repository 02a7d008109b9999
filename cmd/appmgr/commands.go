package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/loykin/appmgr/pkg/client"
	"github.com/spf13/cobra"
)

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show the status of all applications or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := globalFlags.client()
			if len(args) == 0 {
				apps, err := c.List(cmdContext(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), client.ListResponse{Apps: apps})
			}
			st, err := c.Status(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func createHealthCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health <name>",
		Short: "Run a health check now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := globalFlags.client().Health(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
}

// createActionCommand builds start, stop and restart. A failed action still
// prints the returned status and exits non-zero.
func createActionCommand(globalFlags *GlobalFlags, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := globalFlags.client()
			var fn func(context.Context, string) (client.ActionResult, error)
			switch action {
			case "start":
				fn = c.Start
			case "stop":
				fn = c.Stop
			default:
				fn = c.Restart
			}
			res, err := fn(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s %s failed: %s", action, args[0], res.Error)
			}
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
