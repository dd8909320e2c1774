// Package pgremote is a remote.Backend on PostgreSQL. A push locks the
// tenant's sequence row, so concurrent pushes for one tenant serialize
// while different tenants proceed independently.
package pgremote

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/remote"
	"github.com/dmitrijs2005/gophvault/internal/remote/pgremote/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Backend struct {
	db *sql.DB
}

// New wraps an already migrated database.
func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Open connects with the pgx driver and applies migrations.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: db open: %v", common.ErrSync, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: db ping: %v", common.ErrSync, err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrSync, err)
	}
	return New(db), nil
}

func (b *Backend) Push(ctx context.Context, tenantID string, recs []remote.Record) (remote.PushResult, error) {
	var res remote.PushResult
	err := dbx.WithTx(ctx, b.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := &repository{db: tx}
		seq, err := repo.lockTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		start := seq
		for _, r := range recs {
			stored, err := repo.get(ctx, tenantID, r.ID())
			if err != nil {
				return err
			}
			if !remote.Supersedes(stored, &r) {
				res.Skipped = append(res.Skipped, r.ID())
				continue
			}
			seq++
			r.Seq = seq
			if err := repo.put(ctx, tenantID, &r); err != nil {
				return err
			}
			res.Accepted++
		}
		if seq == start {
			return nil
		}
		return repo.setSeq(ctx, tenantID, seq)
	})
	if err != nil {
		return remote.PushResult{}, wrap(err)
	}
	return res, nil
}

func (b *Backend) Pull(ctx context.Context, tenantID, cursor string, limit int) (remote.Batch, error) {
	after, err := remote.ParseCursor(cursor)
	if err != nil {
		return remote.Batch{}, err
	}
	limit = remote.Limit(limit)
	repo := &repository{db: b.db}
	recs, err := repo.after(ctx, tenantID, after, limit+1)
	if err != nil {
		return remote.Batch{}, wrap(err)
	}
	return remote.Page(recs, after, limit), nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func wrap(err error) error {
	if common.IsAny(err, common.ErrSync, common.ErrSyncCorruption, context.Canceled, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrSync, err)
}
