package models

import (
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/vclock"
)

// MaxVersions bounds the retained history per secret.
const MaxVersions = 10

// SecretRecord is an encrypted secret as stored locally and exchanged with
// remote backends. It never carries plaintext.
type SecretRecord struct {
	TenantID  string
	Namespace string
	Key       string

	Algorithm  cryptox.Algorithm
	Ciphertext []byte
	Nonce      []byte

	// Version strictly increases on every mutation.
	Version int64
	// Clock holds per-device counters for conflict detection.
	Clock vclock.Clock

	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string

	Tags []string
	// AccessHash is an optional Argon2id hash of a per-secret password.
	AccessHash string

	// Deleted marks a tombstone so deletions propagate through sync.
	Deleted bool
	// Pending is set while the record has local changes not yet pushed.
	Pending bool
}

// Path returns "tenant/namespace/key", used in audit and as AEAD
// associated data.
func (r *SecretRecord) Path() string {
	return RecordPath(r.TenantID, r.Namespace, r.Key)
}

func RecordPath(tenant, namespace, key string) string {
	return tenant + "/" + namespace + "/" + key
}

// Sealed returns the encrypted payload.
func (r *SecretRecord) Sealed() cryptox.Sealed {
	return cryptox.Sealed{Algorithm: r.Algorithm, Ciphertext: r.Ciphertext, Nonce: r.Nonce}
}

// HasTags reports whether every tag in want is present.
func (r *SecretRecord) HasTags(want []string) bool {
	for _, t := range want {
		if !slices.Contains(r.Tags, t) {
			return false
		}
	}
	return true
}

// Matches reports a case-insensitive match of q against key or tags.
func (r *SecretRecord) Matches(q string) bool {
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(r.Key), q) {
		return true
	}
	for _, t := range r.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// NormalizeTags lowercases, trims, drops empties, dedupes and sorts.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// VersionReason records why a history row was written.
type VersionReason string

const (
	ReasonUpdate   VersionReason = "update"
	ReasonDelete   VersionReason = "delete"
	ReasonConflict VersionReason = "conflict"
	ReasonRestore  VersionReason = "restore"
)

// SecretVersion is a retained prior copy of a record.
type SecretVersion struct {
	Record     SecretRecord
	Reason     VersionReason
	ArchivedAt time.Time
	// Conflict is set on ReasonConflict rows.
	Conflict *VersionConflict
}

// VersionConflict describes the sync conflict that archived a loser.
// LocalVersion and RemoteVersion are the two versions that met; the loser
// itself is archived under a fresh local version number.
type VersionConflict struct {
	Type          string
	Winner        string
	LocalVersion  int64
	RemoteVersion int64
	Resolved      bool
}
