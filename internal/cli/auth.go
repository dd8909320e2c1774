package cli

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/services"
)

// Prompt indirections, replaced in tests.
var (
	getText   = askText
	getHidden = askHidden
)

// ask returns the first non-empty of arg and def, prompting when both are empty.
func (a *App) ask(args []string, i int, def, prompt string) (string, error) {
	if i < len(args) && args[i] != "" {
		return args[i], nil
	}
	if def != "" {
		return def, nil
	}
	return getText(a.reader, a.out, prompt)
}

// Init creates a tenant with the current user as its Admin and logs in.
func (a *App) Init(ctx context.Context, args []string) error {
	tenant, err := a.ask(args, 0, "", "Tenant id")
	if err != nil {
		return err
	}
	email, err := a.ask(args, 1, a.rt.Config.Email, "Admin email")
	if err != nil {
		return err
	}
	pass, err := a.newPassphrase()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	s, err := a.rt.Vault.InitTenant(ctx, services.InitRequest{TenantID: tenant, AdminEmail: email, Passphrase: pass})
	if err != nil {
		return err
	}
	a.setSession(s.Token, s.Principal)
	printOK(a.out, "Tenant %s created, logged in as %s", tenant, email)
	return nil
}

func (a *App) newPassphrase() ([]byte, error) {
	return askNewPassphrase(a.out, getHidden)
}

// Login opens a session; an existing one is closed first.
func (a *App) Login(ctx context.Context, args []string) error {
	tenant, err := a.ask(args, 0, a.rt.Config.TenantID, "Tenant id")
	if err != nil {
		return err
	}
	email, err := a.ask(args, 1, a.rt.Config.Email, "Email")
	if err != nil {
		return err
	}
	pass, err := getHidden(a.out, "Passphrase")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	if a.loggedIn() {
		_ = a.rt.Vault.Logout(ctx, a.token)
		a.token = ""
	}
	s, err := a.rt.Vault.Login(ctx, tenant, email, pass)
	if err != nil {
		return err
	}
	a.setSession(s.Token, s.Principal)
	printOK(a.out, "Logged in as %s (%s)", email, s.Principal.Role)
	return nil
}

// Accept joins a tenant with an invitation token and a new passphrase.
func (a *App) Accept(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	pass, err := a.newPassphrase()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pass)

	s, err := a.rt.Vault.AcceptInvitation(ctx, args[0], pass)
	if err != nil {
		return err
	}
	a.setSession(s.Token, s.Principal)
	printOK(a.out, "Joined %s as %s (%s)", s.Principal.TenantID, s.Principal.Email, s.Principal.Role)
	return nil
}

func (a *App) Logout(ctx context.Context, _ []string) error {
	err := a.rt.Vault.Logout(ctx, a.token)
	a.token = ""
	if err != nil {
		return err
	}
	printOK(a.out, "Logged out")
	return nil
}
