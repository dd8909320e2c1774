package common

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/awnumar/memguard"
)

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// MakeRandHexString returns a hex string built from size random bytes.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RandomAlnum returns n characters drawn uniformly from [A-Za-z0-9].
func RandomAlnum(n int) (string, error) {
	return RandomFrom(alnum, n)
}

// RandomFrom returns n characters drawn uniformly from charset.
func RandomFrom(charset string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}

// WipeByteArray overwrites b with zeroes. Nil-safe.
func WipeByteArray(b []byte) {
	if len(b) == 0 {
		return
	}
	memguard.WipeBytes(b)
}

// GenerateRandByteArray returns n bytes from crypto/rand. It panics if the
// system source fails, which is unrecoverable.
func GenerateRandByteArray(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
