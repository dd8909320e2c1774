package syncer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/access"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/store"
	"github.com/dmitrijs2005/gophvault/internal/vclock"
)

// Strategy picks the winner of a concurrent edit.
type Strategy string

const (
	// LastWriteWins prefers the later UpdatedAt, then the higher version,
	// then the larger payload hash, so every replica picks the same winner.
	LastWriteWins Strategy = "lww"
	PreferLocal   Strategy = "prefer_local"
	PreferRemote  Strategy = "prefer_remote"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", LastWriteWins:
		return LastWriteWins, nil
	case PreferLocal, PreferRemote:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown conflict strategy %q", common.ErrInvalidInput, s)
}

type ConflictType string

const (
	ModifiedBoth  ConflictType = "modified_both"
	DeletedLocal  ConflictType = "deleted_local"
	DeletedRemote ConflictType = "deleted_remote"
)

// ConflictInfo describes one concurrent edit and how it was settled. The
// losing value stays in history under LoserVersion, a fresh local version
// number, unless it was a tombstone.
type ConflictInfo struct {
	Namespace     string
	Key           string
	LocalVersion  int64
	RemoteVersion int64
	Type          ConflictType
	// Winner is "local" or "remote".
	Winner       string
	LoserVersion int64
	DetectedAt   time.Time
}

type decision int

const (
	keepLocal decision = iota
	insertRemote
	takeRemote
	conflictLocalWins
	conflictRemoteWins
)

// decide applies the dominance rule, falling back to strategy for
// concurrent clocks. Tombstones follow the same rule as live records.
func decide(local, remote *models.SecretRecord, strategy Strategy) decision {
	if local == nil {
		return insertRemote
	}
	switch vclock.Compare(local.Clock, remote.Clock) {
	case vclock.Equal, vclock.After:
		return keepLocal
	case vclock.Before:
		return takeRemote
	}
	switch strategy {
	case PreferLocal:
		return conflictLocalWins
	case PreferRemote:
		return conflictRemoteWins
	}
	if remoteNewer(local, remote) {
		return conflictRemoteWins
	}
	return conflictLocalWins
}

func remoteNewer(local, remote *models.SecretRecord) bool {
	if !remote.UpdatedAt.Equal(local.UpdatedAt) {
		return remote.UpdatedAt.After(local.UpdatedAt)
	}
	if remote.Version != local.Version {
		return remote.Version > local.Version
	}
	return bytes.Compare(payloadHash(remote), payloadHash(local)) > 0
}

func payloadHash(r *models.SecretRecord) []byte {
	h := sha256.New()
	h.Write(r.Ciphertext)
	h.Write(r.Nonce)
	if r.Deleted {
		h.Write([]byte{1})
	}
	return h.Sum(nil)
}

func conflictType(local, remote *models.SecretRecord) ConflictType {
	switch {
	case local.Deleted:
		return DeletedLocal
	case remote.Deleted:
		return DeletedRemote
	default:
		return ModifiedBoth
	}
}

// merge applies one verified remote record in its own transaction and
// retries when a local writer got there first.
func (e *Engine) merge(ctx context.Context, p access.Principal, in *models.SecretRecord) (applied bool, c *ConflictInfo, err error) {
	for attempt := 0; ; attempt++ {
		applied, c, err = e.mergeOnce(ctx, p, in)
		if !errors.Is(err, common.ErrVersionConflict) || attempt >= e.opts.ConflictRetries {
			return applied, c, err
		}
		if ctx.Err() != nil {
			return false, nil, ctx.Err()
		}
	}
}

func (e *Engine) mergeOnce(ctx context.Context, p access.Principal, in *models.SecretRecord) (bool, *ConflictInfo, error) {
	local, err := e.store.Repos().Secrets.Get(ctx, in.TenantID, in.Namespace, in.Key)
	if errors.Is(err, common.ErrNotFound) {
		local, err = nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	d := decide(local, in, e.opts.Strategy)
	if d == keepLocal {
		return false, nil, nil
	}

	now := e.now()
	var conflict *ConflictInfo
	err = e.store.WithTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		switch d {
		case insertRemote:
			next := *in
			next.Pending = false
			if err := r.Secrets.EnsureNamespace(ctx, next.TenantID, next.Namespace, now); err != nil {
				return err
			}
			return r.Secrets.Insert(ctx, &next)

		case takeRemote:
			next := *in
			next.Version = max(local.Version+1, in.Version)
			next.Clock = local.Clock.Merge(in.Clock)
			next.Pending = false
			if err := r.Secrets.Update(ctx, &next, local.Version); err != nil {
				return err
			}
			return r.Archive(ctx, local, models.ReasonUpdate, now)
		}

		winner, loser, side := local, in, "local"
		if d == conflictRemoteWins {
			winner, loser, side = in, local, "remote"
		}
		// The remote version number may already name a row in local
		// history, so the loser takes the next unused number and the
		// winner the one after it.
		archived := *loser
		archived.Version = max(local.Version, in.Version) + 1
		next := *winner
		next.Version = archived.Version + 1
		next.Clock = local.Clock.Merge(in.Clock)
		next.Pending = true
		if err := r.Secrets.Update(ctx, &next, local.Version); err != nil {
			return err
		}

		conflict = &ConflictInfo{
			Namespace:     in.Namespace,
			Key:           in.Key,
			LocalVersion:  local.Version,
			RemoteVersion: in.Version,
			Type:          conflictType(local, in),
			Winner:        side,
			LoserVersion:  archived.Version,
			DetectedAt:    now,
		}
		err := r.ArchiveConflict(ctx, &archived, models.VersionConflict{
			Type:          string(conflict.Type),
			Winner:        side,
			LocalVersion:  local.Version,
			RemoteVersion: in.Version,
		}, now)
		if err != nil {
			return err
		}
		detail := fmt.Sprintf("%s: local v%d, remote v%d, %s wins as v%d",
			conflict.Type, local.Version, in.Version, side, next.Version)
		return e.audit.Record(ctx, r, e.audit.Entry(p.TenantID, p.Email, models.EventSyncConflict,
			in.Path(), models.OutcomeSuccess, detail))
	})
	if err != nil {
		return false, nil, err
	}
	return true, conflict, nil
}
