package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command. deploywatch is a single long-running
// agent, so modes are flags on the root rather than subcommands.
func buildRoot() *cobra.Command {
	flags := &RunFlags{}

	root := &cobra.Command{
		Use:   "deploywatch",
		Short: "GitHub push watcher and deploy agent",
		Long: `Deploywatch polls a webhook relay for GitHub push events and keeps a
local checkout of the target repository up to date. In deploy mode it also
restarts and supervises the application after each deploy.

Configuration comes from DEPLOYWATCH_* environment variables or an
optional TOML file.

Examples:
  deploywatch --update                  # watch + pull only
  deploywatch --deploy                  # pull + restart + supervise
  deploywatch --deploy --install        # register as a user service
  deploywatch --uninstall               # remove the service registration`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.Flags().BoolVar(&flags.Update, "update", false, "update mode: sync the checkout, never touch the application")
	root.Flags().BoolVar(&flags.Deploy, "deploy", false, "deploy mode: sync, restart and supervise the application")
	root.Flags().BoolVar(&flags.Install, "install", false, "install as a per-user service and exit")
	root.Flags().BoolVar(&flags.Uninstall, "uninstall", false, "remove the per-user service and exit")
	root.Flags().BoolVar(&flags.Verbose, "verbose", false, "debug logging")

	return root
}
