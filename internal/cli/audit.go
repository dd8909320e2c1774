package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/audit"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

// Audit prints the latest entries, or matches of a search.
func (a *App) Audit(ctx context.Context, args []string) error {
	n := 20
	rest, err := parseArgs("audit", args, func(fs *flag.FlagSet) {
		fs.IntVar(&n, "n", n, "number of entries")
	})
	if err != nil {
		return err
	}

	var seq iter.Seq2[models.AuditEntry, error]
	if len(rest) > 0 && rest[0] == "search" {
		seq, err = a.rt.Vault.AuditSearch(ctx, a.token, audit.Query{Text: strings.Join(rest[1:], " "), Limit: n})
	} else if len(rest) == 0 {
		seq, err = a.rt.Vault.AuditTail(ctx, a.token, n, false)
	} else {
		return errUsage
	}
	if err != nil {
		return err
	}
	return PrintAudit(a.out, seq)
}

// PrintAudit writes entries as they arrive and stops at the first error.
func PrintAudit(w io.Writer, seq iter.Seq2[models.AuditEntry, error]) error {
	for e, err := range seq {
		if err != nil {
			return err
		}
		PrintAuditEntry(w, e)
	}
	return nil
}

func PrintAuditEntry(w io.Writer, e models.AuditEntry) {
	c := okColor
	switch e.Outcome {
	case models.OutcomeDenied:
		c = warnColor
	case models.OutcomeError:
		c = errColor
	}
	dimColor.Fprintf(w, "%s ", e.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "%-24s %-20s %s ", e.Principal, e.Action, e.Resource)
	c.Fprint(w, e.Outcome)
	if e.Detail != "" {
		fmt.Fprintf(w, "  %s", e.Detail)
	}
	fmt.Fprintln(w)
}
