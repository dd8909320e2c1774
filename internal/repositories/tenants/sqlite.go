package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts t; an existing id yields common.ErrAlreadyExists.
func (r *SQLiteRepository) Create(ctx context.Context, t *models.Tenant) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, algorithm, kdf_memory, kdf_time, kdf_parallelism, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, t.Name, string(t.Settings.Algorithm), t.Settings.KDF.Memory, t.Settings.KDF.Time,
		t.Settings.KDF.Parallelism, dbx.TimeToDB(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create tenant[%s]: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create tenant[%s]: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("tenant %s: %w", t.ID, common.ErrAlreadyExists)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var (
		t         models.Tenant
		alg       string
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, algorithm, kdf_memory, kdf_time, kdf_parallelism, created_at
		FROM tenants WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &alg, &t.Settings.KDF.Memory, &t.Settings.KDF.Time,
		&t.Settings.KDF.Parallelism, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant[%s]: %w", id, err)
	}
	t.Settings.Algorithm = cryptox.Algorithm(alg)
	t.CreatedAt = dbx.TimeFromDB(createdAt)
	return &t, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tenants: %w", err)
	}
	return n, nil
}
