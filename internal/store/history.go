package store

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

// Archive keeps prev in history and prunes history to models.MaxVersions.
// Tombstones carry no value and are not archived.
func (r *Repositories) Archive(ctx context.Context, prev *models.SecretRecord, reason models.VersionReason, now time.Time) error {
	if prev.Deleted {
		return nil
	}
	if err := r.Secrets.AppendVersion(ctx, &models.SecretVersion{Record: *prev, Reason: reason, ArchivedAt: now}); err != nil {
		return err
	}
	return r.Secrets.PruneVersions(ctx, prev.TenantID, prev.Namespace, prev.Key, models.MaxVersions)
}

// ArchiveConflict keeps a sync conflict loser in history under its own
// version number, which the caller picks unused, and prunes as Archive does.
func (r *Repositories) ArchiveConflict(ctx context.Context, loser *models.SecretRecord, c models.VersionConflict, now time.Time) error {
	if loser.Deleted {
		return nil
	}
	v := &models.SecretVersion{Record: *loser, Reason: models.ReasonConflict, ArchivedAt: now, Conflict: &c}
	if err := r.Secrets.AppendVersion(ctx, v); err != nil {
		return err
	}
	return r.Secrets.PruneVersions(ctx, loser.TenantID, loser.Namespace, loser.Key, models.MaxVersions)
}
