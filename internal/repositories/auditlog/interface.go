// Package auditlog persists append-only audit entries. Entries are never
// updated or deleted by this package.
package auditlog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

// Cursor positions a scan ordered by (timestamp, seq).
type Cursor struct {
	Timestamp time.Time
	Seq       int64
}

type Repository interface {
	// Append stores e and sets e.Seq.
	Append(ctx context.Context, e *models.AuditEntry) error
	// Latest returns the newest limit entries in ascending order.
	Latest(ctx context.Context, tenantID string, limit int) ([]models.AuditEntry, error)
	// After returns up to limit entries with seq > afterSeq, ascending.
	After(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]models.AuditEntry, error)
	// Range returns up to limit entries with since <= ts < until that sort
	// after the cursor, ordered by (ts, seq). Zero times are unbounded.
	Range(ctx context.Context, tenantID string, since, until time.Time, after Cursor, limit int) ([]models.AuditEntry, error)
}
