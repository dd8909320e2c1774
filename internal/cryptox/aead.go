package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm tags the AEAD cipher a record was sealed with. The tag is stored
// next to each record so old records stay readable after a config change.
type Algorithm string

const (
	AES256GCM        Algorithm = "aes256gcm"
	ChaCha20Poly1305 Algorithm = "chacha20poly1305"
)

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AES256GCM, ChaCha20Poly1305:
		return a, nil
	case "":
		return AES256GCM, nil
	default:
		return "", fmt.Errorf("%w: unknown algorithm %q", common.ErrInvalidInput, s)
	}
}

// Sealed is the output of Encrypt.
type Sealed struct {
	Algorithm  Algorithm
	Ciphertext []byte
	Nonce      []byte
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", common.ErrInvalidInput, alg)
	}
}

// Encrypt seals plaintext under key with a fresh random nonce.
func Encrypt(plaintext []byte, key *Key, alg Algorithm) (Sealed, error) {
	return EncryptWithAD(plaintext, nil, key, alg)
}

// EncryptWithAD is Encrypt with associated data bound into the tag.
func EncryptWithAD(plaintext, ad []byte, key *Key, alg Algorithm) (Sealed, error) {
	if key.Destroyed() {
		return Sealed{}, fmt.Errorf("%w: key destroyed", common.ErrInvalidInput)
	}
	aead, err := newAEAD(alg, key.b)
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, err
	}

	return Sealed{
		Algorithm:  alg,
		Ciphertext: aead.Seal(nil, nonce, plaintext, ad),
		Nonce:      nonce,
	}, nil
}

// Decrypt opens s with key. Any failure, including a tag mismatch, yields
// ErrDecryption and a nil plaintext.
func Decrypt(s Sealed, key *Key) ([]byte, error) {
	return DecryptWithAD(s, nil, key)
}

// DecryptWithAD is Decrypt with associated data.
func DecryptWithAD(s Sealed, ad []byte, key *Key) ([]byte, error) {
	if key.Destroyed() {
		return nil, common.ErrDecryption
	}
	aead, err := newAEAD(s.Algorithm, key.b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(s.Nonce) != aead.NonceSize() {
		return nil, common.ErrDecryption
	}
	pt, err := aead.Open(nil, s.Nonce, s.Ciphertext, ad)
	if err != nil {
		return nil, common.ErrDecryption
	}
	return pt, nil
}

// WrapKey seals dek under kek; the result is stored as
// algorithm tag || nonce || ciphertext.
func WrapKey(dek, kek *Key, alg Algorithm) ([]byte, error) {
	s, err := EncryptWithAD(dek.b, []byte("dek"), kek, alg)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(s.Nonce)+len(s.Ciphertext))
	out = append(out, algorithmByte(alg))
	out = append(out, s.Nonce...)
	return append(out, s.Ciphertext...), nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(wrapped []byte, kek *Key) (*Key, error) {
	if len(wrapped) < 1 {
		return nil, common.ErrDecryption
	}
	alg, ok := algorithmFromByte(wrapped[0])
	if !ok {
		return nil, common.ErrDecryption
	}
	aead, err := newAEAD(alg, make([]byte, KeySize))
	if err != nil {
		return nil, common.ErrDecryption
	}
	ns := aead.NonceSize()
	if len(wrapped) < 1+ns {
		return nil, common.ErrDecryption
	}
	pt, err := DecryptWithAD(Sealed{Algorithm: alg, Nonce: wrapped[1 : 1+ns], Ciphertext: wrapped[1+ns:]}, []byte("dek"), kek)
	if err != nil {
		return nil, err
	}
	defer Zeroize(pt)
	return NewKey(pt)
}

func algorithmByte(a Algorithm) byte {
	if a == ChaCha20Poly1305 {
		return 2
	}
	return 1
}

func algorithmFromByte(b byte) (Algorithm, bool) {
	switch b {
	case 1:
		return AES256GCM, true
	case 2:
		return ChaCha20Poly1305, true
	}
	return "", false
}
