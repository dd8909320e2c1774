package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/generator"
)

// Gen prints a generated value without storing it.
func (a *App) Gen(_ context.Context, args []string) error {
	var opts generator.Options
	rest, err := parseArgs("gen", args, func(fs *flag.FlagSet) {
		fs.IntVar(&opts.Length, "l", 0, "length")
		fs.BoolVar(&opts.Symbols, "s", false, "include symbols")
		fs.StringVar(&opts.Prefix, "prefix", "", "api key prefix")
	})
	if err != nil {
		return err
	}
	kind := generator.KindPassword
	if len(rest) > 1 {
		return errUsage
	}
	if len(rest) == 1 {
		if kind, err = generator.ParseKind(rest[0]); err != nil {
			return err
		}
	}
	s, err := generator.Generate(kind, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, s)
	return nil
}
