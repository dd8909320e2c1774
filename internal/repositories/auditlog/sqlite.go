package auditlog

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `seq, id, tenant_id, ts, principal, action, resource, outcome, detail`

func (r *SQLiteRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, ts, principal, action, resource, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, dbx.TimeToDB(e.Timestamp), e.Principal, e.Action, e.Resource, string(e.Outcome), e.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit seq: %w", err)
	}
	e.Seq = seq
	return nil
}

func (r *SQLiteRepository) Latest(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error) {
	entries, err := r.query(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE tenant_id = ?
		ORDER BY seq DESC LIMIT ?
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return entries, nil
}

func (r *SQLiteRepository) After(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]models.AuditEntry, error) {
	return r.query(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE tenant_id = ? AND seq > ?
		ORDER BY seq LIMIT ?
	`, tenantID, afterSeq, limit)
}

func (r *SQLiteRepository) Range(ctx context.Context, tenantID string, since, until time.Time, after Cursor, limit int) ([]models.AuditEntry, error) {
	from, to, cts := int64(math.MinInt64), int64(math.MaxInt64), int64(math.MinInt64)
	if !since.IsZero() {
		from = dbx.TimeToDB(since)
	}
	if !until.IsZero() {
		to = dbx.TimeToDB(until)
	}
	if !after.Timestamp.IsZero() {
		cts = dbx.TimeToDB(after.Timestamp)
	}
	return r.query(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE tenant_id = ? AND ts >= ? AND ts < ?
		  AND (ts > ? OR (ts = ? AND seq > ?))
		ORDER BY ts, seq LIMIT ?
	`, tenantID, from, to, cts, cts, after.Seq, limit)
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			ts      int64
			outcome string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.TenantID, &ts, &e.Principal, &e.Action, &e.Resource, &outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Timestamp = dbx.TimeFromDB(ts)
		e.Outcome = models.Outcome(outcome)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}
	return result, nil
}
