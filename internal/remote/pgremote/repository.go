package pgremote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/remote"
)

// repository runs the backend's statements over a dbx.DBTX.
type repository struct {
	db dbx.DBTX
}

// lockTenant makes sure the tenant row exists, locks it for the rest of the
// transaction and returns its current sequence.
func (r *repository) lockTenant(ctx context.Context, tenantID string) (int64, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO vault_sync_metadata (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`,
		tenantID); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT current_seq FROM vault_sync_metadata WHERE tenant_id = $1 FOR UPDATE`,
		tenantID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return seq, nil
}

func (r *repository) setSeq(ctx context.Context, tenantID string, seq int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE vault_sync_metadata SET current_seq = $2 WHERE tenant_id = $1`, tenantID, seq)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// get returns nil, nil when the record is absent.
func (r *repository) get(ctx context.Context, tenantID, id string) (*remote.Record, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM vault_records WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	var rec remote.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", common.ErrSyncCorruption, id, err)
	}
	return &rec, nil
}

func (r *repository) put(ctx context.Context, tenantID string, rec *remote.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO vault_records (tenant_id, id, seq, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id)
		DO UPDATE SET seq = EXCLUDED.seq, body = EXCLUDED.body
	`, tenantID, rec.ID(), rec.Seq, body)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// after returns up to limit records with seq > afterSeq in seq order.
func (r *repository) after(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]remote.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, body FROM vault_records
		WHERE tenant_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`, tenantID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var out []remote.Record
	for rows.Next() {
		var (
			seq  int64
			body []byte
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, err
		}
		var rec remote.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("%w: seq %d: %v", common.ErrSyncCorruption, seq, err)
		}
		rec.Seq = seq
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
