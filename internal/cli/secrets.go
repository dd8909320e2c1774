package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/generator"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/services"
)

// Put stores a value typed without echo, or a generated one with -g.
// With -p an access password is set on the secret.
func (a *App) Put(ctx context.Context, args []string) error {
	var (
		protect bool
		kind    string
	)
	rest, err := parseArgs("put", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&protect, "p", false, "protect with an access password")
		fs.StringVar(&kind, "g", "", "generate the value")
	})
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return errUsage
	}

	var value []byte
	if kind != "" {
		k, err := generator.ParseKind(kind)
		if err != nil {
			return err
		}
		s, err := generator.Generate(k, generator.Options{})
		if err != nil {
			return err
		}
		value = []byte(s)
	} else {
		if value, err = getHidden(a.out, "Secret value"); err != nil {
			return err
		}
	}
	defer common.WipeByteArray(value)

	req := services.PutRequest{Namespace: rest[0], Key: rest[1], Value: value, Tags: rest[2:]}
	if protect {
		if req.AccessPassword, err = getHidden(a.out, "Access password"); err != nil {
			return err
		}
		defer common.WipeByteArray(req.AccessPassword)
	}

	rec, err := a.rt.Vault.Put(ctx, a.token, req)
	if err != nil {
		return err
	}
	printOK(a.out, "Stored %s/%s v%d", rec.Namespace, rec.Key, rec.Version)
	if kind != "" {
		fmt.Fprintln(a.out, string(value))
	}
	return nil
}

func (a *App) Get(ctx context.Context, args []string) error {
	var protect bool
	rest, err := parseArgs("get", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&protect, "p", false, "prompt for the access password")
	})
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return errUsage
	}

	var pw []byte
	if protect {
		if pw, err = getHidden(a.out, "Access password"); err != nil {
			return err
		}
		defer common.WipeByteArray(pw)
	}
	value, rec, err := a.rt.Vault.Get(ctx, a.token, rest[0], rest[1], pw)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(value)

	fmt.Fprintln(a.out, string(value))
	dimColor.Fprintf(a.out, "v%d, updated %s by %s\n", rec.Version, rec.UpdatedAt.Format(time.RFC3339), rec.UpdatedBy)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	if err := a.rt.Vault.Delete(ctx, a.token, args[0], args[1]); err != nil {
		return err
	}
	printOK(a.out, "Deleted %s/%s", args[0], args[1])
	return nil
}

func (a *App) List(ctx context.Context, args []string) error {
	ns := ""
	var tags []string
	if len(args) > 0 {
		ns, tags = args[0], args[1:]
	}
	recs, err := a.rt.Vault.List(ctx, a.token, ns, tags)
	if err != nil {
		return err
	}
	a.printRecords(recs)
	return nil
}

func (a *App) Search(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errUsage
	}
	ns := ""
	if len(args) == 2 {
		ns = args[1]
	}
	recs, err := a.rt.Vault.Search(ctx, a.token, args[0], ns)
	if err != nil {
		return err
	}
	a.printRecords(recs)
	return nil
}

func (a *App) printRecords(recs []models.SecretRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "No secrets")
		return
	}
	rows := make([][2]string, 0, len(recs))
	for _, r := range recs {
		info := fmt.Sprintf("v%d", r.Version)
		if len(r.Tags) > 0 {
			info += " [" + strings.Join(r.Tags, ",") + "]"
		}
		if r.AccessHash != "" {
			info += " protected"
		}
		if r.Pending {
			info += " pending"
		}
		rows = append(rows, [2]string{r.Namespace + "/" + r.Key, info})
	}
	tabulate(a.out, rows)
}

// Namespaces lists namespaces, or creates or deletes one.
func (a *App) Namespaces(ctx context.Context, args []string) error {
	switch {
	case len(args) == 0:
		nss, err := a.rt.Vault.ListNamespaces(ctx, a.token)
		if err != nil {
			return err
		}
		for _, ns := range nss {
			fmt.Fprintln(a.out, ns.Name)
		}
		return nil
	case len(args) == 2 && args[0] == "create":
		if err := a.rt.Vault.CreateNamespace(ctx, a.token, args[1]); err != nil {
			return err
		}
		printOK(a.out, "Namespace %s created", args[1])
		return nil
	case len(args) == 2 && args[0] == "delete":
		if err := a.rt.Vault.DeleteNamespace(ctx, a.token, args[1]); err != nil {
			return err
		}
		printOK(a.out, "Namespace %s deleted", args[1])
		return nil
	}
	return errUsage
}

func (a *App) Versions(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	vs, err := a.rt.Vault.Versions(ctx, a.token, args[0], args[1])
	if err != nil {
		return err
	}
	if len(vs) == 0 {
		fmt.Fprintln(a.out, "No history")
		return nil
	}
	rows := make([][2]string, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, [2]string{
			fmt.Sprintf("v%d", v.Record.Version),
			fmt.Sprintf("%s, archived %s, written by %s", v.Reason, v.ArchivedAt.Format(time.RFC3339), v.Record.UpdatedBy),
		})
	}
	tabulate(a.out, rows)
	return nil
}

func (a *App) Restore(ctx context.Context, args []string) error {
	ns, key, version, err := versionArgs(args)
	if err != nil {
		return err
	}
	rec, err := a.rt.Vault.RestoreVersion(ctx, a.token, ns, key, version)
	if err != nil {
		return err
	}
	printOK(a.out, "Restored %s/%s v%d as v%d", ns, key, version, rec.Version)
	return nil
}

func versionArgs(args []string) (string, string, int64, error) {
	if len(args) != 3 {
		return "", "", 0, errUsage
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(args[2], "v"), 10, 64)
	if err != nil || v < 1 {
		return "", "", 0, errUsage
	}
	return args[0], args[1], v, nil
}
