package secrets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

type Repository interface {
	// Get returns the record including tombstones.
	Get(ctx context.Context, tenantID, namespace, key string) (*models.SecretRecord, error)
	Insert(ctx context.Context, rec *models.SecretRecord) error
	// Update replaces the record if its stored version still equals expectedVersion.
	Update(ctx context.Context, rec *models.SecretRecord, expectedVersion int64) error
	// List returns records ordered by namespace then key; namespace "" lists all.
	List(ctx context.Context, tenantID, namespace string, includeDeleted bool) ([]models.SecretRecord, error)
	ListPending(ctx context.Context, tenantID string) ([]models.SecretRecord, error)
	// ClearPending unsets the pending flag only if version is unchanged.
	ClearPending(ctx context.Context, tenantID, namespace, key string, version int64) (bool, error)

	AppendVersion(ctx context.Context, v *models.SecretVersion) error
	// ListVersions returns retained versions, newest first.
	ListVersions(ctx context.Context, tenantID, namespace, key string) ([]models.SecretVersion, error)
	GetVersion(ctx context.Context, tenantID, namespace, key string, version int64) (*models.SecretVersion, error)
	PruneVersions(ctx context.Context, tenantID, namespace, key string, keep int) error
	// ListConflicts returns unresolved ReasonConflict rows, oldest first.
	ListConflicts(ctx context.Context, tenantID string) ([]models.SecretVersion, error)
	// ResolveConflicts closes the open conflicts on a key and reports how many.
	ResolveConflicts(ctx context.Context, tenantID, namespace, key string) (int64, error)

	EnsureNamespace(ctx context.Context, tenantID, name string, now time.Time) error
	ListNamespaces(ctx context.Context, tenantID string) ([]models.Namespace, error)
	// DeleteNamespace removes an empty namespace together with its
	// tombstones and history.
	DeleteNamespace(ctx context.Context, tenantID, name string) error

	Stats(ctx context.Context, tenantID string) (models.Stats, error)
}
