// Package cryptox implements the cryptographic primitives of the vault:
// Argon2id key derivation, HKDF subkeys, AEAD encryption with a per-record
// algorithm tag, DEK wrapping, MACs and zeroization of key material.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of every symmetric key in the vault.
	KeySize = 32
	// MinSaltSize is the shortest salt DeriveKey accepts.
	MinSaltSize = 16
)

// Subkey labels.
const (
	InfoAuth    = "auth"
	InfoSyncMAC = "sync-mac"
)

// KDFParams fixes the Argon2id cost so derivation is reproducible.
// Memory is in KiB.
type KDFParams struct {
	Memory      uint32 `json:"memory"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultKDFParams returns the parameters new tenants are created with.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Time: 3, Parallelism: 1}
}

// Validate reports whether p can be passed to Argon2id.
func (p KDFParams) Validate() error {
	if p.Time == 0 || p.Parallelism == 0 || p.Memory == 0 {
		return fmt.Errorf("%w: zero cost parameter", common.ErrKeyDerivation)
	}
	if p.Memory < 8*uint32(p.Parallelism) {
		return fmt.Errorf("%w: memory must be at least 8*parallelism KiB", common.ErrKeyDerivation)
	}
	return nil
}

// Key is a 32-byte symmetric key. Call Destroy once it is no longer needed.
type Key struct {
	b []byte
}

// NewKey copies b into a Key. b must be KeySize bytes.
func NewKey(b []byte) (*Key, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", common.ErrInvalidInput, KeySize)
	}
	k := make([]byte, KeySize)
	copy(k, b)
	return &Key{b: k}, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() *Key {
	return &Key{b: common.GenerateRandByteArray(KeySize)}
}

// Bytes exposes the key material. The slice must not be retained.
func (k *Key) Bytes() []byte { return k.b }

// Destroy wipes the key. Nil-safe and idempotent.
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	Zeroize(k.b)
	k.b = nil
}

// Destroyed reports whether Destroy has been called.
func (k *Key) Destroyed() bool { return k == nil || k.b == nil }

// DeriveKey derives a master key from passphrase and salt with Argon2id.
//
// Parameters:
//   - passphrase: user secret; the caller keeps ownership and should wipe it.
//   - salt: random per-user salt of at least MinSaltSize bytes.
//   - params: memory/time/parallelism cost; invalid values yield ErrKeyDerivation.
//
// Returns:
//   - a new *Key that the caller must Destroy.
func DeriveKey(passphrase, salt []byte, params KDFParams) (*Key, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", common.ErrKeyDerivation, MinSaltSize)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", common.ErrKeyDerivation)
	}
	return &Key{b: argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Parallelism, KeySize)}, nil
}

// Subkey derives an independent key from k with HKDF-SHA256 and the given
// info label.
func Subkey(k *Key, info string) (*Key, error) {
	if k.Destroyed() {
		return nil, fmt.Errorf("%w: key destroyed", common.ErrInvalidInput)
	}
	out := make([]byte, KeySize)
	r := hkdf.New(sha256.New, k.b, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return &Key{b: out}, nil
}

// AuthSecret returns the value stored to verify a passphrase: SHA-256 of the
// "auth" subkey of the master key. The master key itself is never stored.
func AuthSecret(master *Key) ([]byte, error) {
	sub, err := Subkey(master, InfoAuth)
	if err != nil {
		return nil, err
	}
	defer sub.Destroy()
	sum := sha256.Sum256(sub.b)
	return sum[:], nil
}

// VerifyAuthSecret compares AuthSecret(master) to stored in constant time.
func VerifyAuthSecret(master *Key, stored []byte) bool {
	got, err := AuthSecret(master)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, stored) == 1
}

// TokenKey derives a key from a high-entropy bearer token, such as an
// invitation token, with HKDF-SHA256. It is not for passphrases.
func TokenKey(token []byte, info string) (*Key, error) {
	if len(token) == 0 {
		return nil, fmt.Errorf("%w: empty token", common.ErrKeyDerivation)
	}
	out := make([]byte, KeySize)
	r := hkdf.New(sha256.New, token, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return &Key{b: out}, nil
}
