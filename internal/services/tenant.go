package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/session"
	"github.com/dmitrijs2005/gophvault/internal/store"
)

// InitRequest describes a new tenant and its first Admin.
type InitRequest struct {
	TenantID   string
	Name       string
	AdminEmail string
	Passphrase []byte
}

// InitTenant creates the tenant, a random data key, the Admin user and the
// default namespace, then opens a session for the Admin.
func (v *Vault) InitTenant(ctx context.Context, req InitRequest) (*session.Session, error) {
	const op = "init"
	if err := checkName("tenant id", req.TenantID); err != nil {
		return nil, invalid(op, req.TenantID, err.Error())
	}
	if err := checkEmail(req.AdminEmail); err != nil {
		return nil, invalid(op, req.TenantID, err.Error())
	}
	if len(req.Passphrase) == 0 {
		return nil, invalid(op, req.TenantID, "passphrase must not be empty")
	}
	name := req.Name
	if name == "" {
		name = req.TenantID
	}

	_, err := v.store.Repos().Tenants.Get(ctx, req.TenantID)
	if err == nil {
		return nil, common.NewOpError(op, req.TenantID, "", common.ErrAlreadyExists)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, opErr(op, req.TenantID, storageErr(err))
	}

	now := v.now()
	tenant := &models.Tenant{
		ID:        req.TenantID,
		Name:      name,
		Settings:  models.TenantSettings{Algorithm: v.opts.Algorithm, KDF: v.opts.KDF},
		CreatedAt: now,
	}

	dek := cryptox.GenerateKey()
	admin, err := v.credentials(req.TenantID, req.AdminEmail, models.RoleAdmin, req.Passphrase, dek, tenant.Settings)
	if err != nil {
		dek.Destroy()
		return nil, opErr(op, req.TenantID, err)
	}
	admin.CreatedAt = now

	p := access.Principal{TenantID: req.TenantID, Email: req.AdminEmail, Role: models.RoleAdmin}
	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		if err := r.Tenants.Create(ctx, tenant); err != nil {
			return err
		}
		if err := r.Users.Create(ctx, admin); err != nil {
			return err
		}
		if err := r.Secrets.EnsureNamespace(ctx, req.TenantID, common.DefaultNamespace, now); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(p, models.EventTenantCreated, req.TenantID, "algorithm "+string(v.opts.Algorithm)))
	})
	if err != nil {
		dek.Destroy()
		return nil, opErr(op, req.TenantID, storageErr(err))
	}

	v.logger.Info(ctx, "tenant created", "tenant", req.TenantID, "admin", req.AdminEmail)
	s, err := v.sessions.Open(p, dek)
	if err != nil {
		dek.Destroy()
		return nil, opErr(op, req.TenantID, err)
	}
	return s, nil
}

// credentials derives a fresh master key for passphrase and returns an
// accepted user whose wrapped data key opens under it.
func (v *Vault) credentials(tenantID, email string, role models.Role, passphrase []byte, dek *cryptox.Key, settings models.TenantSettings) (*models.User, error) {
	salt := common.GenerateRandByteArray(cryptox.MinSaltSize)
	master, err := cryptox.DeriveKey(passphrase, salt, settings.KDF)
	if err != nil {
		return nil, err
	}
	defer master.Destroy()

	authSecret, err := cryptox.AuthSecret(master)
	if err != nil {
		return nil, err
	}
	wrapped, err := cryptox.WrapKey(dek, master, settings.Algorithm)
	if err != nil {
		return nil, err
	}
	return &models.User{
		TenantID:   tenantID,
		Email:      email,
		Role:       role,
		State:      models.UserAccepted,
		AuthSecret: authSecret,
		KDFSalt:    salt,
		WrappedDEK: wrapped,
	}, nil
}

// Login authenticates and records the attempt either way.
func (v *Vault) Login(ctx context.Context, tenantID, email string, passphrase []byte) (*session.Session, error) {
	const op = "login"
	s, err := v.sessions.Login(ctx, tenantID, email, passphrase)
	if err != nil {
		if errors.Is(err, common.ErrAuthentication) {
			v.recordStandalone(ctx, v.audit.Entry(tenantID, email, models.EventLoginFailed, tenantID, models.OutcomeDenied, "invalid credentials"))
		}
		return nil, opErr(op, tenantID, err)
	}

	now := v.now()
	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		u, err := r.Users.Get(ctx, tenantID, email)
		if err != nil {
			return err
		}
		u.LastLogin = &now
		if err := r.Users.Update(ctx, u); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(s.Principal, models.EventLogin, tenantID, ""))
	})
	if err != nil {
		_ = v.sessions.Logout(s.Token)
		return nil, opErr(op, tenantID, storageErr(err))
	}
	return s, nil
}

// Logout ends the session and zeroizes its key material.
func (v *Vault) Logout(ctx context.Context, token string) error {
	p, err := v.sessions.Validate(token)
	if err != nil {
		return opErr("logout", "", err)
	}
	if err := v.sessions.Logout(token); err != nil {
		return opErr("logout", p.TenantID, err)
	}
	v.succeed(ctx, p, models.EventLogout, p.TenantID, "")
	return nil
}

// Refresh extends the session idle window.
func (v *Vault) Refresh(token string) (*session.Session, error) {
	s, err := v.sessions.Refresh(token)
	return s, opErr("refresh", "", err)
}

// Stats summarizes the caller's tenant.
func (v *Vault) Stats(ctx context.Context, token string) (models.Stats, error) {
	const op = "stats"
	p, err := v.Authorize(ctx, token, access.SecretRead, models.EventStats, access.Resource{})
	if err != nil {
		return models.Stats{}, opErr(op, "", err)
	}
	st, err := v.store.Repos().Secrets.Stats(ctx, p.TenantID)
	if err != nil {
		v.fail(ctx, p, models.EventStats, p.TenantID, err)
		return models.Stats{}, opErr(op, p.TenantID, storageErr(err))
	}
	v.succeed(ctx, p, models.EventStats, p.TenantID, "")
	return st, nil
}

// HealthCheck reports whether the store answers and tenantID exists.
func (v *Vault) HealthCheck(ctx context.Context, tenantID string) error {
	if err := v.store.Ping(ctx); err != nil {
		return opErr("health", tenantID, err)
	}
	if tenantID == "" {
		return nil
	}
	if _, err := v.store.Repos().Tenants.Get(ctx, tenantID); err != nil {
		return opErr("health", tenantID, storageErr(err))
	}
	return nil
}

func checkEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " /") {
		return fmt.Errorf("invalid email %q", email)
	}
	return nil
}
