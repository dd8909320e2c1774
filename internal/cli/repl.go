package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// command is one REPL verb.
type command struct {
	usage string
	// session marks commands that need a logged-in user.
	session bool
	run     func(ctx context.Context, args []string) error
}

var errUsage = errors.New("usage")

// runREPL reads lines from reader, treats the first field as a command and
// dispatches it. It returns on EOF, on exit or quit, or when ctx is done.
// Command errors are printed and the loop goes on.
func runREPL(ctx context.Context, cmds map[string]command, loggedIn func() bool, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for ctx.Err() == nil {
		fmt.Fprintf(w, "vault%s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(w)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		switch name {
		case "help":
			printHelp(w, cmds, loggedIn())
			continue
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		}

		c, ok := cmds[name]
		if !ok {
			printErr(w, fmt.Errorf("unknown command: %s", name))
			continue
		}
		if c.session && !loggedIn() {
			printErr(w, errors.New("not logged in, use login or init"))
			continue
		}
		if err := c.run(ctx, args); err != nil {
			if errors.Is(err, errUsage) {
				fmt.Fprintf(w, "Usage: %s %s\n", name, c.usage)
				continue
			}
			printErr(w, err)
		}
	}
}

func printHelp(w io.Writer, cmds map[string]command, loggedIn bool) {
	names := make([]string, 0, len(cmds))
	for name, c := range cmds {
		if loggedIn || !c.session {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	fmt.Fprintln(w, "Available commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, cmds[name].usage)
	}
	fmt.Fprintln(w, "  exit")
}
