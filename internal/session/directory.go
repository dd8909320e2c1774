package session

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/store"
)

type storeDirectory struct {
	s *store.Store
}

// StoreDirectory resolves logins against the local store.
func StoreDirectory(s *store.Store) Directory {
	return storeDirectory{s: s}
}

func (d storeDirectory) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	return d.s.Repos().Tenants.Get(ctx, tenantID)
}

func (d storeDirectory) GetUser(ctx context.Context, tenantID, email string) (*models.User, error) {
	return d.s.Repos().Users.Get(ctx, tenantID, email)
}
