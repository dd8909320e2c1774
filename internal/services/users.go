package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/session"
	"github.com/dmitrijs2005/gophvault/internal/store"
)

const (
	invitationTokenLength = 32
	invitationKeyInfo     = "invitation"
)

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// InviteUser creates a pending user and an invitation whose token is
// returned once. The token also unlocks a copy of the tenant data key, so
// the invitee can join without the inviter being present.
func (v *Vault) InviteUser(ctx context.Context, token, email string, role models.Role) (*models.Invitation, error) {
	const op = "invite"
	p, err := v.Authorize(ctx, token, access.UserInvite, models.EventUserInvited, access.Resource{})
	if err != nil {
		return nil, opErr(op, "", err)
	}
	if !v.opts.Collaborative {
		return nil, invalid(op, email, "user management requires collaborative cloud mode")
	}
	if err := checkEmail(email); err != nil {
		return nil, invalid(op, email, err.Error())
	}
	if _, err := models.ParseRole(string(role)); err != nil {
		return nil, invalid(op, email, err.Error())
	}
	if !access.CanGrant(p.Role, role) {
		reason := fmt.Sprintf("role %s may not grant %s", p.Role, role)
		v.deny(ctx, p, models.EventUserInvited, email, reason)
		return nil, common.NewOpError(op, email, reason, common.ErrAuthorization)
	}

	tenant, err := v.store.Repos().Tenants.Get(ctx, p.TenantID)
	if err != nil {
		v.fail(ctx, p, models.EventUserInvited, email, err)
		return nil, opErr(op, email, storageErr(err))
	}

	plain, err := common.RandomAlnum(invitationTokenLength)
	if err != nil {
		v.fail(ctx, p, models.EventUserInvited, email, err)
		return nil, opErr(op, email, err)
	}
	var wrapped []byte
	err = v.sessions.UseKey(token, func(_ access.Principal, dek *cryptox.Key) error {
		ik, err := cryptox.TokenKey([]byte(plain), invitationKeyInfo)
		if err != nil {
			return err
		}
		defer ik.Destroy()
		wrapped, err = cryptox.WrapKey(dek, ik, tenant.Settings.Algorithm)
		return err
	})
	if err != nil {
		v.fail(ctx, p, models.EventUserInvited, email, err)
		return nil, opErr(op, email, err)
	}

	now := v.now()
	inv := &models.Invitation{
		Token:      plain,
		TokenHash:  hashToken(plain),
		TenantID:   p.TenantID,
		Email:      email,
		Role:       role,
		InvitedBy:  p.Email,
		CreatedAt:  now,
		ExpiresAt:  now.Add(models.InvitationTTL),
		WrappedDEK: wrapped,
	}
	pending := &models.User{TenantID: p.TenantID, Email: email, Role: role, State: models.UserPending, CreatedAt: now}

	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		if err := r.Users.Create(ctx, pending); err != nil {
			return err
		}
		if err := r.Users.CreateInvitation(ctx, inv); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(p, models.EventUserInvited, email, "role "+string(role)))
	})
	if err != nil {
		v.fail(ctx, p, models.EventUserInvited, email, err)
		return nil, opErr(op, email, storageErr(err))
	}
	return inv, nil
}

// AcceptInvitation sets the invitee's passphrase, gives them their own
// wrapped copy of the data key and opens a session for them. Any problem
// with the token is reported as an authentication failure.
func (v *Vault) AcceptInvitation(ctx context.Context, invitationToken string, passphrase []byte) (*session.Session, error) {
	const op = "accept"
	if len(passphrase) == 0 {
		return nil, invalid(op, "", "passphrase must not be empty")
	}
	hash := hashToken(invitationToken)
	repos := v.store.Repos()

	inv, err := repos.Users.GetInvitation(ctx, hash)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewOpError(op, "", "unknown invitation", common.ErrAuthentication)
	}
	if err != nil {
		return nil, opErr(op, "", storageErr(err))
	}
	if !inv.IsValid(v.now()) {
		v.recordStandalone(ctx, v.audit.Entry(inv.TenantID, inv.Email, models.EventUserAdded, inv.Email, models.OutcomeDenied, "invitation expired or used"))
		return nil, common.NewOpError(op, inv.Email, "invitation expired or used", common.ErrAuthentication)
	}

	tenant, err := repos.Tenants.Get(ctx, inv.TenantID)
	if err != nil {
		return nil, opErr(op, inv.Email, storageErr(err))
	}
	user, err := repos.Users.Get(ctx, inv.TenantID, inv.Email)
	if err != nil {
		return nil, opErr(op, inv.Email, storageErr(err))
	}

	ik, err := cryptox.TokenKey([]byte(invitationToken), invitationKeyInfo)
	if err != nil {
		return nil, opErr(op, inv.Email, err)
	}
	dek, err := cryptox.UnwrapKey(inv.WrappedDEK, ik)
	ik.Destroy()
	if err != nil {
		return nil, common.NewOpError(op, inv.Email, "invitation key", common.ErrAuthentication)
	}

	creds, err := v.credentials(inv.TenantID, inv.Email, user.Role, passphrase, dek, tenant.Settings)
	if err != nil {
		dek.Destroy()
		return nil, opErr(op, inv.Email, err)
	}
	user.State = models.UserAccepted
	user.AuthSecret, user.KDFSalt, user.WrappedDEK = creds.AuthSecret, creds.KDFSalt, creds.WrappedDEK

	p := access.Principal{TenantID: inv.TenantID, Email: inv.Email, Role: user.Role}
	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		if err := r.Users.MarkInvitationAccepted(ctx, hash); err != nil {
			return err
		}
		if err := r.Users.Update(ctx, user); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(p, models.EventUserAdded, inv.Email, "invited by "+inv.InvitedBy))
	})
	if err != nil {
		dek.Destroy()
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewOpError(op, inv.Email, "invitation expired or used", common.ErrAuthentication)
		}
		return nil, opErr(op, inv.Email, storageErr(err))
	}

	s, err := v.sessions.Open(p, dek)
	if err != nil {
		dek.Destroy()
		return nil, opErr(op, inv.Email, err)
	}
	return s, nil
}

// ChangeRole assigns role to email. The actor must be able to grant both
// the old and the new role, and the last Admin cannot be demoted.
func (v *Vault) ChangeRole(ctx context.Context, token, email string, role models.Role) error {
	const op = "role"
	p, err := v.Authorize(ctx, token, access.UserRoleChange, models.EventRoleChanged, access.Resource{})
	if err != nil {
		return opErr(op, "", err)
	}
	if _, err := models.ParseRole(string(role)); err != nil {
		return invalid(op, email, err.Error())
	}

	target, err := v.store.Repos().Users.Get(ctx, p.TenantID, email)
	if err != nil {
		v.fail(ctx, p, models.EventRoleChanged, email, err)
		return opErr(op, email, storageErr(err))
	}
	if !access.CanGrant(p.Role, role) || !access.CanGrant(p.Role, target.Role) {
		reason := fmt.Sprintf("role %s may not change %s to %s", p.Role, target.Role, role)
		v.deny(ctx, p, models.EventRoleChanged, email, reason)
		return common.NewOpError(op, email, reason, common.ErrAuthorization)
	}
	if target.Role == role {
		return nil
	}

	old := target.Role
	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		if err := lastAdminGuard(ctx, r, target); err != nil {
			return err
		}
		target.Role = role
		if err := r.Users.Update(ctx, target); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(p, models.EventRoleChanged, email, fmt.Sprintf("%s -> %s", old, role)))
	})
	if err != nil {
		v.fail(ctx, p, models.EventRoleChanged, email, err)
		return opErr(op, email, storageErr(err))
	}
	return nil
}

// RemoveUser deletes a user. Users cannot remove themselves and the last
// Admin cannot be removed.
func (v *Vault) RemoveUser(ctx context.Context, token, email string) error {
	const op = "remove-user"
	p, err := v.Authorize(ctx, token, access.UserRemove, models.EventUserRemoved, access.Resource{})
	if err != nil {
		return opErr(op, "", err)
	}
	if email == p.Email {
		return invalid(op, email, "cannot remove yourself")
	}

	target, err := v.store.Repos().Users.Get(ctx, p.TenantID, email)
	if err != nil {
		v.fail(ctx, p, models.EventUserRemoved, email, err)
		return opErr(op, email, storageErr(err))
	}
	if !access.CanGrant(p.Role, target.Role) {
		reason := fmt.Sprintf("role %s may not remove %s", p.Role, target.Role)
		v.deny(ctx, p, models.EventUserRemoved, email, reason)
		return common.NewOpError(op, email, reason, common.ErrAuthorization)
	}

	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		if err := lastAdminGuard(ctx, r, target); err != nil {
			return err
		}
		if err := r.Users.Delete(ctx, p.TenantID, email); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(p, models.EventUserRemoved, email, "role "+string(target.Role)))
	})
	if err != nil {
		v.fail(ctx, p, models.EventUserRemoved, email, err)
		return opErr(op, email, storageErr(err))
	}
	return nil
}

func (v *Vault) ListUsers(ctx context.Context, token string) ([]models.User, error) {
	const op = "users"
	p, err := v.Authorize(ctx, token, access.UserList, models.EventUserList, access.Resource{})
	if err != nil {
		return nil, opErr(op, "", err)
	}
	users, err := v.store.Repos().Users.List(ctx, p.TenantID)
	if err != nil {
		v.fail(ctx, p, models.EventUserList, p.TenantID, err)
		return nil, opErr(op, p.TenantID, storageErr(err))
	}
	for i := range users {
		users[i].AuthSecret, users[i].KDFSalt, users[i].WrappedDEK = nil, nil, nil
	}
	v.succeed(ctx, p, models.EventUserList, p.TenantID, fmt.Sprintf("%d users", len(users)))
	return users, nil
}

func lastAdminGuard(ctx context.Context, r *store.Repositories, target *models.User) error {
	if target.Role != models.RoleAdmin || target.State != models.UserAccepted {
		return nil
	}
	n, err := r.Users.CountByRole(ctx, target.TenantID, models.RoleAdmin)
	if err != nil {
		return err
	}
	if n <= 1 {
		return common.NewOpError("role", target.Email, "the last admin must remain", common.ErrInvalidInput)
	}
	return nil
}
