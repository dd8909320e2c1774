package main

import (
	"context"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/gophvault/internal/cli"
	"github.com/dmitrijs2005/gophvault/internal/config"
)

// withApp opens the runtime, runs fn with an App on stdin and stderr and
// closes everything afterwards. With login set the user is prompted first.
func withApp(ctx context.Context, cfg *config.Config, login bool, fn func(a *cli.App) error) error {
	rt, err := cli.Open(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	a := cli.NewApp(rt, os.Stdin, os.Stderr)
	if login {
		if err := a.Login(ctx, nil); err != nil {
			return err
		}
		defer func() { _ = a.Logout(context.Background(), nil) }()
	}
	return fn(a)
}

func runShell(ctx context.Context, cfg *config.Config) error {
	rt, err := cli.Open(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	cli.NewApp(rt, os.Stdin, os.Stdout).Run(ctx)
	return nil
}

func newShellCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), cfg)
		},
	}
}

func newInitCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "init [tenant] [admin-email]",
		Short: "Create a tenant with yourself as Admin",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, false, func(a *cli.App) error {
				if err := a.Init(cmd.Context(), args); err != nil {
					return err
				}
				return a.Logout(cmd.Context(), nil)
			})
		},
	}
}

func newSyncCmd(cfg *config.Config) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:       "sync [push|pull]",
		Short:     "Synchronize with the configured backend",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"push", "pull"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if force {
				args = append([]string{"-f"}, args...)
			}
			return withApp(cmd.Context(), cfg, true, func(a *cli.App) error {
				return a.Sync(cmd.Context(), args)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "push every record or pull from the beginning")
	return cmd
}

func newAuditCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit log",
	}

	var (
		n      int
		follow bool
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the latest entries, optionally following new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, cfg, true, func(a *cli.App) error {
				rt := a.Runtime()
				seq, err := rt.Vault.AuditTail(ctx, a.Token(), n, follow)
				if err != nil {
					return err
				}
				err = cli.PrintAudit(cmd.OutOrStdout(), seq)
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new entries")

	var limit int
	search := &cobra.Command{
		Use:   "search <text>",
		Short: "Search entries; terms may be field=value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cfg, true, func(a *cli.App) error {
				return a.Audit(cmd.Context(), append([]string{"-n", itoa(limit), "search"}, args...))
			})
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", 100, "maximum matches")

	cmd.AddCommand(tail, search)
	return cmd
}

func newCloneCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <path>",
		Short: "Copy the local store to enroll another device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := cli.Open(cmd.Context(), cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Store.Clone(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("Store cloned to %s\n", args[0])
			return nil
		},
	}
}

func newGenCmd() *cobra.Command {
	var (
		length  int
		symbols bool
	)
	cmd := &cobra.Command{
		Use:       "gen [password|api_key|uuid|hex_key]",
		Short:     "Generate a random value",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"password", "api_key", "uuid", "hex_key"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := cli.NewApp(nil, os.Stdin, cmd.OutOrStdout())
			flags := []string{"-l", itoa(length)}
			if symbols {
				flags = append(flags, "-s")
			}
			return a.Gen(cmd.Context(), append(flags, args...))
		},
	}
	cmd.Flags().IntVarP(&length, "length", "l", 0, "length, zero for the default")
	cmd.Flags().BoolVarP(&symbols, "symbols", "s", false, "include symbols in passwords")
	return cmd
}

func itoa(n int) string { return strconv.Itoa(n) }
