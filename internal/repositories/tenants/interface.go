// Package tenants persists tenant rows and their crypto settings.
package tenants

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.Tenant) error
	Get(ctx context.Context, id string) (*models.Tenant, error)
	Count(ctx context.Context) (int, error)
}
