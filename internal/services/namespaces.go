package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/store"
)

func (v *Vault) CreateNamespace(ctx context.Context, token, name string) error {
	const op = "ns-create"
	p, err := v.Authorize(ctx, token, access.NamespaceManage, models.EventNamespace, access.Resource{Namespace: name})
	if err != nil {
		return opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: name}
	if err := checkName("namespace", name); err != nil {
		return invalid(op, res.String(), err.Error())
	}

	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		existing, err := r.Secrets.ListNamespaces(ctx, p.TenantID)
		if err != nil {
			return err
		}
		if slices.ContainsFunc(existing, func(n models.Namespace) bool { return n.Name == name }) {
			return common.ErrAlreadyExists
		}
		if err := r.Secrets.EnsureNamespace(ctx, p.TenantID, name, v.now()); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(p, models.EventNamespace, res.String(), "created"))
	})
	if err != nil {
		v.fail(ctx, p, models.EventNamespace, res.String(), err)
		return opErr(op, res.String(), storageErr(err))
	}
	return nil
}

func (v *Vault) ListNamespaces(ctx context.Context, token string) ([]models.Namespace, error) {
	const op = "ns-list"
	p, err := v.Authorize(ctx, token, access.SecretRead, models.EventNamespace, access.Resource{})
	if err != nil {
		return nil, opErr(op, "", err)
	}
	out, err := v.store.Repos().Secrets.ListNamespaces(ctx, p.TenantID)
	if err != nil {
		v.fail(ctx, p, models.EventNamespace, p.TenantID, err)
		return nil, opErr(op, p.TenantID, storageErr(err))
	}
	v.succeed(ctx, p, models.EventNamespace, p.TenantID, fmt.Sprintf("listed %d", len(out)))
	return out, nil
}

// DeleteNamespace removes a namespace with no live or unsynced records.
// The default namespace cannot be removed.
func (v *Vault) DeleteNamespace(ctx context.Context, token, name string) error {
	const op = "ns-delete"
	p, err := v.Authorize(ctx, token, access.NamespaceManage, models.EventNamespace, access.Resource{Namespace: name})
	if err != nil {
		return opErr(op, "", err)
	}
	res := access.Resource{TenantID: p.TenantID, Namespace: name}
	if name == common.DefaultNamespace {
		return invalid(op, res.String(), "the default namespace cannot be deleted")
	}

	err = v.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		if err := r.Secrets.DeleteNamespace(ctx, p.TenantID, name); err != nil {
			return err
		}
		return v.audit.Record(ctx, r, v.success(p, models.EventNamespace, res.String(), "deleted"))
	})
	if err != nil {
		v.fail(ctx, p, models.EventNamespace, res.String(), err)
		return opErr(op, res.String(), storageErr(err))
	}
	return nil
}
