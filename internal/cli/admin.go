package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

// Invite prints a one-time invitation token for email.
func (a *App) Invite(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	role, err := models.ParseRole(args[1])
	if err != nil {
		return err
	}
	inv, err := a.rt.Vault.InviteUser(ctx, a.token, args[0], role)
	if err != nil {
		return err
	}
	printOK(a.out, "Invited %s as %s, expires %s", inv.Email, inv.Role, inv.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(a.out, "Invitation token (shown once): %s\n", inv.Token)
	return nil
}

func (a *App) Role(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	role, err := models.ParseRole(args[1])
	if err != nil {
		return err
	}
	if err := a.rt.Vault.ChangeRole(ctx, a.token, args[0], role); err != nil {
		return err
	}
	printOK(a.out, "%s is now %s", args[0], role)
	return nil
}

func (a *App) RemoveUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.rt.Vault.RemoveUser(ctx, a.token, args[0]); err != nil {
		return err
	}
	printOK(a.out, "Removed %s", args[0])
	return nil
}

func (a *App) Users(ctx context.Context, _ []string) error {
	users, err := a.rt.Vault.ListUsers(ctx, a.token)
	if err != nil {
		return err
	}
	rows := make([][2]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, [2]string{u.Email, fmt.Sprintf("%s %s", u.Role, u.State)})
	}
	tabulate(a.out, rows)
	return nil
}

func (a *App) Stats(ctx context.Context, _ []string) error {
	st, err := a.rt.Vault.Stats(ctx, a.token)
	if err != nil {
		return err
	}
	tabulate(a.out, [][2]string{
		{"secrets", fmt.Sprint(st.Secrets)},
		{"tombstones", fmt.Sprint(st.Tombstones)},
		{"pending", fmt.Sprint(st.Pending)},
		{"namespaces", fmt.Sprint(st.Namespaces)},
		{"users", fmt.Sprint(st.Users)},
		{"bytes", fmt.Sprint(st.TotalBytes)},
	})
	return nil
}
