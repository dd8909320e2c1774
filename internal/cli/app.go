package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/common"
)

// App is the interactive shell over a Runtime.
type App struct {
	rt     *Runtime
	reader *bufio.Reader
	out    io.Writer

	token     string
	principal access.Principal
}

func NewApp(rt *Runtime, in io.Reader, out io.Writer) *App {
	return &App{rt: rt, reader: bufio.NewReader(in), out: out}
}

// Run prints a banner and runs the shell until exit, EOF or ctx is done.
// The session, if any, is closed on return.
func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "gophvault shell (type 'help' for commands)")
	defer func() {
		if a.loggedIn() {
			_ = a.rt.Vault.Logout(context.Background(), a.token)
		}
	}()
	runREPL(ctx, a.commands(), a.loggedIn, a.status, a.reader, a.out)
}

func (a *App) loggedIn() bool { return a.token != "" }

func (a *App) status() string {
	if !a.loggedIn() {
		return ""
	}
	return fmt.Sprintf(" (%s@%s %s)", a.principal.Email, a.principal.TenantID, a.principal.Role)
}

// Token returns the current session token, empty when logged out.
func (a *App) Token() string { return a.token }

func (a *App) setSession(token string, p access.Principal) {
	a.token, a.principal = token, p
}

// check drops the local session when the vault reports it gone.
func (a *App) check(err error) error {
	if common.IsAny(err, common.ErrSessionExpired, common.ErrSessionInvalid) {
		a.setSession("", access.Principal{})
		return fmt.Errorf("%w, please login again", err)
	}
	return err
}

func (a *App) commands() map[string]command {
	wrap := func(fn func(ctx context.Context, args []string) error) func(context.Context, []string) error {
		return func(ctx context.Context, args []string) error { return a.check(fn(ctx, args)) }
	}
	return map[string]command{
		"init":   {usage: "[tenant] [email]", run: a.Init},
		"login":  {usage: "[tenant] [email]", run: a.Login},
		"accept": {usage: "<invitation-token>", run: a.Accept},
		"gen":    {usage: "[-l length] [-s] [-prefix p] <password|api_key|uuid|hex_key>", run: a.Gen},

		"logout":    {usage: "", session: true, run: wrap(a.Logout)},
		"put":       {usage: "[-p] [-g kind] <namespace> <key> [tag ...]", session: true, run: wrap(a.Put)},
		"get":       {usage: "[-p] <namespace> <key>", session: true, run: wrap(a.Get)},
		"delete":    {usage: "<namespace> <key>", session: true, run: wrap(a.Delete)},
		"list":      {usage: "[namespace] [tag ...]", session: true, run: wrap(a.List)},
		"search":    {usage: "<text> [namespace]", session: true, run: wrap(a.Search)},
		"ns":        {usage: "[create|delete <name>]", session: true, run: wrap(a.Namespaces)},
		"versions":  {usage: "<namespace> <key>", session: true, run: wrap(a.Versions)},
		"restore":   {usage: "<namespace> <key> <version>", session: true, run: wrap(a.Restore)},
		"invite":    {usage: "<email> <role>", session: true, run: wrap(a.Invite)},
		"role":      {usage: "<email> <role>", session: true, run: wrap(a.Role)},
		"rmuser":    {usage: "<email>", session: true, run: wrap(a.RemoveUser)},
		"users":     {usage: "", session: true, run: wrap(a.Users)},
		"sync":      {usage: "[-f] [push|pull]", session: true, run: wrap(a.Sync)},
		"status":    {usage: "", session: true, run: wrap(a.Status)},
		"conflicts": {usage: "", session: true, run: wrap(a.Conflicts)},
		"resolve":   {usage: "<namespace> <key> <version>", session: true, run: wrap(a.Resolve)},
		"audit":     {usage: "[-n count] [search text]", session: true, run: wrap(a.Audit)},
		"stats":     {usage: "", session: true, run: wrap(a.Stats)},
	}
}

// parseArgs parses per-command flags; positional arguments follow them.
func parseArgs(name string, args []string, define func(fs *flag.FlagSet)) ([]string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, errors.Join(errUsage, err)
	}
	return fs.Args(), nil
}

// Runtime returns the wired vault the shell runs on.
func (a *App) Runtime() *Runtime { return a.rt }
