// Package remote defines the contract between the sync engine and a remote
// backend, and provides an in-memory backend.
//
// A backend only ever sees ciphertext. It keeps the newest record per key,
// skips pushes whose clock is already covered by what it stores, and
// numbers accepted records with a tenant-wide increasing sequence. The pull
// cursor is that sequence in decimal.
package remote

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/vclock"
)

// DefaultPullLimit caps a pull when the caller passes a non-positive limit.
const DefaultPullLimit = 500

// Record is the wire form of one encrypted secret.
type Record struct {
	Namespace  string            `json:"namespace"`
	Key        string            `json:"key"`
	Version    int64             `json:"version"`
	Clock      vclock.Clock      `json:"clock"`
	Algorithm  cryptox.Algorithm `json:"algorithm"`
	Ciphertext []byte            `json:"ciphertext"`
	Nonce      []byte            `json:"nonce"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	CreatedBy  string            `json:"created_by"`
	UpdatedBy  string            `json:"updated_by"`
	Tags       []string          `json:"tags,omitempty"`
	AccessHash string            `json:"access_hash,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
	// MAC authenticates every other field; the backend stores it opaquely.
	MAC []byte `json:"mac"`
	// Seq is assigned by the backend on acceptance.
	Seq int64 `json:"seq,omitempty"`
}

// ID is "namespace/key", unique within a tenant.
func (r *Record) ID() string { return r.Namespace + "/" + r.Key }

// PushResult reports what a backend did with a pushed batch.
type PushResult struct {
	Accepted int `json:"accepted"`
	// Skipped lists ids whose stored clock already covered the push.
	Skipped []string `json:"skipped,omitempty"`
}

// Batch is one page of a pull.
type Batch struct {
	Records []Record `json:"records"`
	Cursor  string   `json:"cursor"`
	More    bool     `json:"more"`
}

type Backend interface {
	Push(ctx context.Context, tenantID string, recs []Record) (PushResult, error)
	Pull(ctx context.Context, tenantID, cursor string, limit int) (Batch, error)
	Close() error
}

// Supersedes reports whether incoming should replace stored: anything not
// already covered by the stored clock is kept.
func Supersedes(stored *Record, incoming *Record) bool {
	return stored == nil || !stored.Clock.Descends(incoming.Clock)
}

func ParseCursor(c string) (int64, error) {
	if c == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(c, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad cursor %q", common.ErrInvalidInput, c)
	}
	return n, nil
}

func FormatCursor(seq int64) string { return strconv.FormatInt(seq, 10) }

// Limit applies DefaultPullLimit to non-positive values.
func Limit(n int) int {
	if n <= 0 || n > DefaultPullLimit {
		return DefaultPullLimit
	}
	return n
}

// FromModel converts a local record to its wire form without a MAC.
func FromModel(s *models.SecretRecord) Record {
	return Record{
		Namespace:  s.Namespace,
		Key:        s.Key,
		Version:    s.Version,
		Clock:      s.Clock.Copy(),
		Algorithm:  s.Algorithm,
		Ciphertext: s.Ciphertext,
		Nonce:      s.Nonce,
		CreatedAt:  s.CreatedAt.UTC(),
		UpdatedAt:  s.UpdatedAt.UTC(),
		CreatedBy:  s.CreatedBy,
		UpdatedBy:  s.UpdatedBy,
		Tags:       s.Tags,
		AccessHash: s.AccessHash,
		Deleted:    s.Deleted,
	}
}

// ToModel converts a wire record into a local one for tenantID.
func (r *Record) ToModel(tenantID string) *models.SecretRecord {
	return &models.SecretRecord{
		TenantID:   tenantID,
		Namespace:  r.Namespace,
		Key:        r.Key,
		Algorithm:  r.Algorithm,
		Ciphertext: r.Ciphertext,
		Nonce:      r.Nonce,
		Version:    r.Version,
		Clock:      r.Clock.Copy(),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		CreatedBy:  r.CreatedBy,
		UpdatedBy:  r.UpdatedBy,
		Tags:       r.Tags,
		AccessHash: r.AccessHash,
		Deleted:    r.Deleted,
	}
}
