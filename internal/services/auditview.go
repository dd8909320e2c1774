package services

import (
	"context"
	"fmt"
	"iter"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/audit"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

// AuditTail returns the caller's tenant log as a lazy sequence. The view
// itself is audited before the sequence is handed out.
func (v *Vault) AuditTail(ctx context.Context, token string, limit int, follow bool) (iter.Seq2[models.AuditEntry, error], error) {
	p, err := v.Authorize(ctx, token, access.AuditView, models.EventAuditView, access.Resource{})
	if err != nil {
		return nil, opErr("audit-tail", "", err)
	}
	v.succeed(ctx, p, models.EventAuditView, p.TenantID, fmt.Sprintf("tail %d follow=%t", limit, follow))
	return v.audit.Tail(ctx, p.TenantID, limit, follow), nil
}

// AuditSearch filters the caller's tenant log lazily.
func (v *Vault) AuditSearch(ctx context.Context, token string, q audit.Query) (iter.Seq2[models.AuditEntry, error], error) {
	p, err := v.Authorize(ctx, token, access.AuditView, models.EventAuditView, access.Resource{})
	if err != nil {
		return nil, opErr("audit-search", "", err)
	}
	v.succeed(ctx, p, models.EventAuditView, p.TenantID, "search "+q.Text)
	return v.audit.Search(ctx, p.TenantID, q), nil
}
