package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/syncer"
)

// Sync runs a full round, or only push or pull. -f pushes every record or
// pulls from the beginning.
func (a *App) Sync(ctx context.Context, args []string) error {
	if a.rt.Engine == nil {
		return ErrSyncDisabled
	}
	var force bool
	rest, err := parseArgs("sync", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&force, "f", false, "force a full push or pull")
	})
	if err != nil {
		return err
	}

	var res *syncer.Result
	switch {
	case len(rest) == 0:
		res, err = a.rt.Engine.Sync(ctx, a.token)
	case len(rest) == 1 && rest[0] == "push":
		res, err = a.rt.Engine.Push(ctx, a.token, force)
	case len(rest) == 1 && rest[0] == "pull":
		res, err = a.rt.Engine.Pull(ctx, a.token, force)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}
	PrintResult(a.out, res)
	return nil
}

// PrintResult summarizes a sync round and lists settled conflicts.
func PrintResult(w io.Writer, res *syncer.Result) {
	printOK(w, "Pushed %d (skipped %d), pulled %d (applied %d) in %s",
		res.Pushed, res.Skipped, res.Pulled, res.Applied, res.Duration.Round(time.Millisecond))
	for _, c := range res.Conflicts {
		printWarn(w, "conflict %s/%s: %s, %s wins, losing value kept as v%d",
			c.Namespace, c.Key, c.Type, c.Winner, c.LoserVersion)
	}
}

func (a *App) Status(ctx context.Context, _ []string) error {
	if a.rt.Engine == nil {
		return ErrSyncDisabled
	}
	st, err := a.rt.Engine.Status(ctx, a.token)
	if err != nil {
		return err
	}
	last := "never"
	if !st.LastSync.IsZero() {
		last = st.LastSync.Format(time.RFC3339)
	}
	rows := [][2]string{
		{"backend", a.rt.Config.Backend},
		{"last sync", last},
		{"pending", fmt.Sprint(st.Pending)},
		{"cursor", st.Cursor},
		{"conflicts", fmt.Sprint(st.Conflicts)},
	}
	if st.LastError != "" {
		rows = append(rows, [2]string{"last error", st.LastError})
	}
	tabulate(a.out, rows)
	return nil
}

func (a *App) Conflicts(ctx context.Context, _ []string) error {
	if a.rt.Engine == nil {
		return ErrSyncDisabled
	}
	cs, err := a.rt.Engine.Conflicts(ctx, a.token)
	if err != nil {
		return err
	}
	if len(cs) == 0 {
		fmt.Fprintln(a.out, "No conflicts")
		return nil
	}
	for _, c := range cs {
		fmt.Fprintf(a.out, "%s/%s  %s  local v%d, remote v%d, %s won, loser v%d  %s\n",
			c.Namespace, c.Key, c.Type, c.LocalVersion, c.RemoteVersion, c.Winner, c.LoserVersion,
			c.DetectedAt.Format(time.RFC3339))
	}
	return nil
}

// Resolve settles a conflict: the current version keeps the automatic
// choice, a retained one is restored over it.
func (a *App) Resolve(ctx context.Context, args []string) error {
	if a.rt.Engine == nil {
		return ErrSyncDisabled
	}
	ns, key, version, err := versionArgs(args)
	if err != nil {
		return err
	}
	rec, err := a.rt.Engine.Resolve(ctx, a.token, ns, key, version)
	if err != nil {
		return err
	}
	if rec.Version == version {
		printOK(a.out, "Resolved %s/%s, kept v%d", ns, key, version)
		return nil
	}
	printOK(a.out, "Resolved %s/%s with v%d, now v%d (pending sync)", ns, key, version, rec.Version)
	return nil
}
