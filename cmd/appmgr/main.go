package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with all subcommands attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(globalFlags),
		createHealthCommand(globalFlags),
		createActionCommand(globalFlags, "start", "Start an application by running its start script"),
		createActionCommand(globalFlags, "stop", "Stop an application by stop script or signals"),
		createActionCommand(globalFlags, "restart", "Stop then start an application"),
		createTemplateCommand(),
	)
	return root
}

// createRootCommand creates the root command with the persistent connection flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "appmgr",
		Short: "Application lifecycle manager",
		Long: `appmgr supervises the applications of a single node: it provisions
their directories, runs their start and shutdown scripts, monitors their
health, and serves a control API on a local Unix socket.

Examples:
  appmgr serve --config /etc/appmgr.toml   # run the daemon
  appmgr status                            # all applications
  appmgr status web                        # one application
  appmgr restart web`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.Socket, "socket", defaultSocket(), "control socket path (env APPMGR_SOCKET)")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", defaultTimeout, "request timeout")
	return root
}
