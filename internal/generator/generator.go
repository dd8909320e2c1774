// Package generator produces random secret values: passwords, API keys,
// UUIDs and hex keys. All randomness comes from crypto/rand.
package generator

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/google/uuid"
)

const (
	alnum   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	symbols = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	DefaultPasswordLength = 24
	DefaultAPIKeyPrefix   = "vk"
	DefaultHexKeyLength   = 64
	apiKeyRandomLength    = 32
	maxLength             = 4096
)

type Kind string

const (
	KindPassword Kind = "password"
	KindAPIKey   Kind = "api_key"
	KindUUID     Kind = "uuid"
	KindHexKey   Kind = "hex_key"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPassword, KindAPIKey, KindUUID, KindHexKey:
		return k, nil
	case "apikey", "api-key":
		return KindAPIKey, nil
	case "hex":
		return KindHexKey, nil
	}
	return "", fmt.Errorf("%w: unknown generator %q", common.ErrInvalidInput, s)
}

// Options tunes Generate. Zero values take the per-kind defaults.
type Options struct {
	Length  int
	Symbols bool
	Prefix  string
}

func Generate(kind Kind, opts Options) (string, error) {
	switch kind {
	case KindPassword:
		n := opts.Length
		if n == 0 {
			n = DefaultPasswordLength
		}
		return Password(n, opts.Symbols)
	case KindAPIKey:
		return APIKey(opts.Prefix)
	case KindUUID:
		return UUID(), nil
	case KindHexKey:
		n := opts.Length
		if n == 0 {
			n = DefaultHexKeyLength
		}
		return HexKey(n)
	}
	return "", fmt.Errorf("%w: unknown generator %q", common.ErrInvalidInput, kind)
}

// Password draws length characters from letters and digits, plus
// punctuation when withSymbols is set.
func Password(length int, withSymbols bool) (string, error) {
	if err := checkLength(length); err != nil {
		return "", err
	}
	charset := alnum
	if withSymbols {
		charset += symbols
	}
	return common.RandomFrom(charset, length)
}

// APIKey returns "<prefix>_" followed by 32 alphanumerics; prefix defaults
// to "vk".
func APIKey(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultAPIKeyPrefix
	}
	r, err := common.RandomAlnum(apiKeyRandomLength)
	if err != nil {
		return "", err
	}
	return prefix + "_" + r, nil
}

func UUID() string { return uuid.NewString() }

// HexKey returns length hex digits; length must be even.
func HexKey(length int) (string, error) {
	if err := checkLength(length); err != nil {
		return "", err
	}
	if length%2 != 0 {
		return "", fmt.Errorf("%w: hex key length must be even, got %d", common.ErrInvalidInput, length)
	}
	return common.MakeRandHexString(length / 2)
}

func checkLength(n int) error {
	if n <= 0 || n > maxLength {
		return fmt.Errorf("%w: length must be between 1 and %d, got %d", common.ErrInvalidInput, maxLength, n)
	}
	return nil
}
