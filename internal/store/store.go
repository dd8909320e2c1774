// Package store owns the process-wide Local Store handle: one SQLite file
// guarded by an exclusive advisory lock, migrated on open, and exposing
// repositories bound to either the database or a transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/repositories/auditlog"
	"github.com/dmitrijs2005/gophvault/internal/repositories/metadata"
	"github.com/dmitrijs2005/gophvault/internal/repositories/secrets"
	"github.com/dmitrijs2005/gophvault/internal/repositories/tenants"
	"github.com/dmitrijs2005/gophvault/internal/repositories/users"
	"github.com/dmitrijs2005/gophvault/internal/store/migrations"
	"github.com/gofrs/flock"

	_ "modernc.org/sqlite"
)

// Repositories groups every repository bound to one DBTX.
type Repositories struct {
	Tenants  tenants.Repository
	Users    users.Repository
	Secrets  secrets.Repository
	Audit    auditlog.Repository
	Metadata metadata.Repository
}

// ReposFor binds all repositories to db, which may be a transaction.
func ReposFor(db dbx.DBTX) *Repositories {
	return &Repositories{
		Tenants:  tenants.NewSQLiteRepository(db),
		Users:    users.NewSQLiteRepository(db),
		Secrets:  secrets.NewSQLiteRepository(db),
		Audit:    auditlog.NewSQLiteRepository(db),
		Metadata: metadata.NewSQLiteRepository(db),
	}
}

type Store struct {
	db     *sql.DB
	lock   *flock.Flock
	path   string
	logger logging.Logger
}

// dsn enables WAL with synchronous=FULL so a committed transaction survives
// a crash, and a busy timeout for readers in other processes.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
}

// Open acquires <path>.lock, opens the database and applies migrations.
// A lock held by another process yields common.ErrLocked.
func Open(ctx context.Context, path string, l logging.Logger) (*Store, error) {
	abs, err := filex.EnsureParentDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}

	lock := flock.New(abs + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", common.ErrStorage, abs, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", abs, common.ErrLocked)
	}

	db, err := sql.Open("sqlite", dsn(abs))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: open: %v", common.ErrStorage, err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	// a single connection serializes writers inside this process
	db.SetMaxOpenConns(1)

	s := &Store{db: db, lock: lock, path: abs, logger: l.With("module", "store")}
	s.logger.Debug(ctx, "store opened", "path", abs)
	return s, nil
}

// Close closes the database and releases the process lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return fmt.Errorf("%w: close: %v", common.ErrStorage, dbErr)
	}
	if lockErr != nil {
		return fmt.Errorf("%w: unlock: %v", common.ErrStorage, lockErr)
	}
	return nil
}

func (s *Store) Path() string { return s.path }

// DB exposes the handle for read paths that do not need a transaction.
func (s *Store) DB() *sql.DB { return s.db }

// Repos returns repositories bound to the database outside any transaction.
func (s *Store) Repos() *Repositories { return ReposFor(s.db) }

// WithTx runs fn in one transaction; everything fn writes through repos
// commits together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repos *Repositories) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, ReposFor(tx))
	})
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return nil
}
