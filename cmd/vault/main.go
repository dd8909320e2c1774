package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/gophvault/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "vault",
		Short: "gophvault - a local-first, end-to-end encrypted secret store",
		Long: `gophvault keeps secrets encrypted in a local SQLite store and can
synchronize them through a backup or collaborative backend.

Run without a subcommand to start the interactive shell.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().AddGoFlagSet(config.Bind(cfg))

	root.AddCommand(
		newShellCmd(cfg),
		newInitCmd(cfg),
		newSyncCmd(cfg),
		newAuditCmd(cfg),
		newCloneCmd(cfg),
		newGenCmd(),
	)
	return root
}
