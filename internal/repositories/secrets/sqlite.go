package secrets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/vclock"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `tenant_id, namespace, key, algorithm, ciphertext, nonce, version, clock,
	created_at, updated_at, created_by, updated_by, tags, access_hash, deleted`

const versionColumns = `reason, archived_at, conflict_type, conflict_winner, local_version, remote_version, resolved`

type rowScanner interface {
	Scan(dest ...any) error
}

// recordArgs returns the bind values matching recordColumns.
func recordArgs(r *models.SecretRecord) ([]any, error) {
	clock, err := r.Clock.Encode()
	if err != nil {
		return nil, err
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return []any{
		r.TenantID, r.Namespace, r.Key, string(r.Algorithm), r.Ciphertext, r.Nonce, r.Version, string(clock),
		dbx.TimeToDB(r.CreatedAt), dbx.TimeToDB(r.UpdatedAt), r.CreatedBy, r.UpdatedBy, string(tagsJSON),
		r.AccessHash, dbx.BoolToDB(r.Deleted),
	}, nil
}

// scanRecord reads recordColumns followed by extra destinations.
func scanRecord(s rowScanner, extra ...any) (*models.SecretRecord, error) {
	var (
		r                    models.SecretRecord
		alg, clock, tags     string
		createdAt, updatedAt int64
	)
	dest := append([]any{
		&r.TenantID, &r.Namespace, &r.Key, &alg, &r.Ciphertext, &r.Nonce, &r.Version, &clock,
		&createdAt, &updatedAt, &r.CreatedBy, &r.UpdatedBy, &tags, &r.AccessHash, &r.Deleted,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	c, err := vclock.Decode([]byte(clock))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	r.Algorithm = cryptox.Algorithm(alg)
	r.Clock = c
	r.CreatedAt = dbx.TimeFromDB(createdAt)
	r.UpdatedAt = dbx.TimeFromDB(updatedAt)
	return &r, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, tenantID, namespace, key string) (*models.SecretRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`, pending
		FROM secrets WHERE tenant_id = ? AND namespace = ? AND key = ?
	`, tenantID, namespace, key)

	var pending bool
	rec, err := scanRecord(row, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("secret %s: %w", models.RecordPath(tenantID, namespace, key), common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	rec.Pending = pending
	return rec, nil
}

// Insert adds a new record; an existing (tenant, namespace, key) row, live
// or tombstoned, yields common.ErrVersionConflict so the caller re-reads.
func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.SecretRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	args = append(args, dbx.BoolToDB(rec.Pending))

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO secrets (`+recordColumns+`, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, namespace, key) DO NOTHING
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to insert secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert secret: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("secret %s: %w", rec.Path(), common.ErrVersionConflict)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, rec *models.SecretRecord, expectedVersion int64) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	// recordArgs starts with the three key columns; the SET clause uses the rest.
	set := args[3:]
	set = append(set, dbx.BoolToDB(rec.Pending), rec.TenantID, rec.Namespace, rec.Key, expectedVersion)

	res, err := r.db.ExecContext(ctx, `
		UPDATE secrets
		SET algorithm = ?, ciphertext = ?, nonce = ?, version = ?, clock = ?,
		    created_at = ?, updated_at = ?, created_by = ?, updated_by = ?, tags = ?,
		    access_hash = ?, deleted = ?, pending = ?
		WHERE tenant_id = ? AND namespace = ? AND key = ? AND version = ?
	`, set...)
	if err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("secret %s at version %d: %w", rec.Path(), expectedVersion, common.ErrVersionConflict)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, tenantID, namespace string, includeDeleted bool) ([]models.SecretRecord, error) {
	q := `SELECT ` + recordColumns + `, pending FROM secrets WHERE tenant_id = ?`
	args := []any{tenantID}
	if namespace != "" {
		q += ` AND namespace = ?`
		args = append(args, namespace)
	}
	if !includeDeleted {
		q += ` AND deleted = 0`
	}
	q += ` ORDER BY namespace, key`
	return r.queryRecords(ctx, q, args...)
}

func (r *SQLiteRepository) ListPending(ctx context.Context, tenantID string) ([]models.SecretRecord, error) {
	return r.queryRecords(ctx, `
		SELECT `+recordColumns+`, pending FROM secrets
		WHERE tenant_id = ? AND pending = 1
		ORDER BY namespace, key
	`, tenantID)
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, q string, args ...any) ([]models.SecretRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var result []models.SecretRecord
	for rows.Next() {
		var pending bool
		rec, err := scanRecord(rows, &pending)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secret row: %w", err)
		}
		rec.Pending = pending
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate secret rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ClearPending(ctx context.Context, tenantID, namespace, key string, version int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE secrets SET pending = 0
		WHERE tenant_id = ? AND namespace = ? AND key = ? AND version = ?
	`, tenantID, namespace, key, version)
	if err != nil {
		return false, fmt.Errorf("failed to clear pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to clear pending: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) AppendVersion(ctx context.Context, v *models.SecretVersion) error {
	args, err := recordArgs(&v.Record)
	if err != nil {
		return err
	}
	c := v.Conflict
	if c == nil {
		c = &models.VersionConflict{}
	}
	args = append(args, string(v.Reason), dbx.TimeToDB(v.ArchivedAt),
		c.Type, c.Winner, c.LocalVersion, c.RemoteVersion, dbx.BoolToDB(c.Resolved))

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO secret_versions (`+recordColumns+`, `+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to append secret version: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListVersions(ctx context.Context, tenantID, namespace, key string) ([]models.SecretVersion, error) {
	return r.queryVersions(ctx, `
		SELECT `+recordColumns+`, `+versionColumns+` FROM secret_versions
		WHERE tenant_id = ? AND namespace = ? AND key = ?
		ORDER BY id DESC
	`, tenantID, namespace, key)
}

// ListConflicts returns unresolved conflict losers across the tenant,
// oldest first.
func (r *SQLiteRepository) ListConflicts(ctx context.Context, tenantID string) ([]models.SecretVersion, error) {
	return r.queryVersions(ctx, `
		SELECT `+recordColumns+`, `+versionColumns+` FROM secret_versions
		WHERE tenant_id = ? AND reason = ? AND resolved = 0
		ORDER BY id
	`, tenantID, string(models.ReasonConflict))
}

// ResolveConflicts marks every open conflict on the key as resolved.
func (r *SQLiteRepository) ResolveConflicts(ctx context.Context, tenantID, namespace, key string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE secret_versions SET resolved = 1
		WHERE tenant_id = ? AND namespace = ? AND key = ? AND reason = ? AND resolved = 0
	`, tenantID, namespace, key, string(models.ReasonConflict))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve conflicts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve conflicts: %w", err)
	}
	return n, nil
}

// GetVersion returns the most recently archived copy with that version.
func (r *SQLiteRepository) GetVersion(ctx context.Context, tenantID, namespace, key string, version int64) (*models.SecretVersion, error) {
	vs, err := r.queryVersions(ctx, `
		SELECT `+recordColumns+`, `+versionColumns+` FROM secret_versions
		WHERE tenant_id = ? AND namespace = ? AND key = ? AND version = ?
		ORDER BY id DESC LIMIT 1
	`, tenantID, namespace, key, version)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("version %d of %s: %w", version, models.RecordPath(tenantID, namespace, key), common.ErrNotFound)
	}
	return &vs[0], nil
}

func (r *SQLiteRepository) queryVersions(ctx context.Context, q string, args ...any) ([]models.SecretVersion, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list secret versions: %w", err)
	}
	defer rows.Close()

	var result []models.SecretVersion
	for rows.Next() {
		var (
			reason   string
			archived int64
			c        models.VersionConflict
		)
		rec, err := scanRecord(rows, &reason, &archived,
			&c.Type, &c.Winner, &c.LocalVersion, &c.RemoteVersion, &c.Resolved)
		if err != nil {
			return nil, fmt.Errorf("failed to scan secret version row: %w", err)
		}
		v := models.SecretVersion{
			Record:     *rec,
			Reason:     models.VersionReason(reason),
			ArchivedAt: dbx.TimeFromDB(archived),
		}
		if v.Reason == models.ReasonConflict {
			v.Conflict = &c
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate secret version rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) PruneVersions(ctx context.Context, tenantID, namespace, key string, keep int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM secret_versions
		WHERE tenant_id = ? AND namespace = ? AND key = ? AND id NOT IN (
			SELECT id FROM secret_versions
			WHERE tenant_id = ? AND namespace = ? AND key = ?
			ORDER BY id DESC LIMIT ?
		)
	`, tenantID, namespace, key, tenantID, namespace, key, keep)
	if err != nil {
		return fmt.Errorf("failed to prune secret versions: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) EnsureNamespace(ctx context.Context, tenantID, name string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO namespaces (tenant_id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, name) DO NOTHING
	`, tenantID, name, dbx.TimeToDB(now))
	if err != nil {
		return fmt.Errorf("failed to ensure namespace[%s]: %w", name, err)
	}
	return nil
}

func (r *SQLiteRepository) ListNamespaces(ctx context.Context, tenantID string) ([]models.Namespace, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tenant_id, name, created_at FROM namespaces WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var result []models.Namespace
	for rows.Next() {
		var (
			ns      models.Namespace
			created int64
		)
		if err := rows.Scan(&ns.TenantID, &ns.Name, &created); err != nil {
			return nil, fmt.Errorf("failed to scan namespace row: %w", err)
		}
		ns.CreatedAt = dbx.TimeFromDB(created)
		result = append(result, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate namespace rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteNamespace(ctx context.Context, tenantID, name string) error {
	var live int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM secrets
		WHERE tenant_id = ? AND namespace = ? AND (deleted = 0 OR pending = 1)
	`, tenantID, name).Scan(&live)
	if err != nil {
		return fmt.Errorf("failed to count namespace secrets: %w", err)
	}
	if live > 0 {
		return fmt.Errorf("namespace %s: %w", name, common.ErrNamespaceNotEmpty)
	}

	for _, q := range []string{
		`DELETE FROM secret_versions WHERE tenant_id = ? AND namespace = ?`,
		`DELETE FROM secrets WHERE tenant_id = ? AND namespace = ?`,
	} {
		if _, err := r.db.ExecContext(ctx, q, tenantID, name); err != nil {
			return fmt.Errorf("failed to delete namespace[%s]: %w", name, err)
		}
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM namespaces WHERE tenant_id = ? AND name = ?`, tenantID, name)
	if err != nil {
		return fmt.Errorf("failed to delete namespace[%s]: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete namespace[%s]: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("namespace %s: %w", name, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Stats(ctx context.Context, tenantID string) (models.Stats, error) {
	var s models.Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pending), 0),
			COALESCE(SUM(CASE WHEN deleted = 0 THEN LENGTH(ciphertext) ELSE 0 END), 0)
		FROM secrets WHERE tenant_id = ?
	`, tenantID).Scan(&s.Secrets, &s.Tombstones, &s.Pending, &s.TotalBytes)
	if err != nil {
		return s, fmt.Errorf("failed to compute secret stats: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM namespaces WHERE tenant_id = ?`, tenantID).Scan(&s.Namespaces); err != nil {
		return s, fmt.Errorf("failed to count namespaces: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = ?`, tenantID).Scan(&s.Users); err != nil {
		return s, fmt.Errorf("failed to count users: %w", err)
	}
	return s, nil
}
