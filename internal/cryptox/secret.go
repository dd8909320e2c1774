package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"golang.org/x/crypto/argon2"
)

// Zeroize overwrites buf with zeroes.
func Zeroize(buf []byte) {
	common.WipeByteArray(buf)
}

// WithSecret runs fn with buf and zeroizes buf on every exit path,
// including a panic inside fn.
func WithSecret(buf []byte, fn func([]byte) error) error {
	defer Zeroize(buf)
	return fn(buf)
}

// WithKey runs fn with k and destroys k afterwards.
func WithKey(k *Key, fn func(*Key) error) error {
	defer k.Destroy()
	return fn(k)
}

// MAC returns HMAC-SHA256 of msg under key.
func MAC(key *Key, msg []byte) []byte {
	m := hmac.New(sha256.New, key.b)
	m.Write(msg)
	return m.Sum(nil)
}

// VerifyMAC checks tag against MAC(key, msg) in constant time.
func VerifyMAC(key *Key, msg, tag []byte) bool {
	if key.Destroyed() {
		return false
	}
	return hmac.Equal(MAC(key, msg), tag)
}

// access passwords use a lighter cost than master keys; they guard a
// single record and are checked on every read.
var accessPasswordParams = KDFParams{Memory: 19 * 1024, Time: 2, Parallelism: 1}

// HashAccessPassword returns an encoded Argon2id hash of a per-secret
// access password: "argon2id$<m>$<t>$<p>$<salt>$<hash>".
func HashAccessPassword(password []byte) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: empty access password", common.ErrInvalidInput)
	}
	p := accessPasswordParams
	salt := common.GenerateRandByteArray(MinSaltSize)
	h := argon2.IDKey(password, salt, p.Time, p.Memory, p.Parallelism, KeySize)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s", p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(h)), nil
}

// VerifyAccessPassword checks password against an encoded hash. A hash
// whose salt or digest has the wrong length never verifies.
func VerifyAccessPassword(password []byte, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	var p KDFParams
	if _, err := fmt.Sscanf(parts[1]+" "+parts[2]+" "+parts[3], "%d %d %d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return false
	}
	if p.Validate() != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	if len(salt) < MinSaltSize || len(want) != KeySize {
		return false
	}
	got := argon2.IDKey(password, salt, p.Time, p.Memory, p.Parallelism, KeySize)
	defer Zeroize(got)
	return subtle.ConstantTimeCompare(got, want) == 1
}
