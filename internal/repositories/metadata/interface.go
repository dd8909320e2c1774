// Package metadata stores device-local key/value bookkeeping such as the
// device id and per-tenant sync cursors. It lives in the same SQLite file
// as the records, so a cursor is never out of step with the rows it covers.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyDeviceID = "device_id"
)

// CursorKey is the metadata key of a tenant's sync cursor.
func CursorKey(tenantID string) string { return "sync_cursor:" + tenantID }

// LastSyncKey stores the RFC 3339 time of a tenant's last successful sync.
func LastSyncKey(tenantID string) string { return "last_sync:" + tenantID }

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
}
