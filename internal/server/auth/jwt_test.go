package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := GenerateToken("acme", "laptop", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	claims, err := ParseToken(tok, secret)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims.TenantID != "acme" || claims.DeviceID != "laptop" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateToken("acme", "d1", secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseToken(tok, secret)
	if !errors.Is(err, common.ErrSessionExpired) {
		t.Fatalf("expected common.ErrSessionExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken("acme", "d1", []byte("one"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseToken(tok, []byte("two"))
	if !errors.Is(err, common.ErrAuthentication) {
		t.Fatalf("expected common.ErrAuthentication, got %v", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	t.Parallel()

	if _, err := ParseToken("not-a-jwt", []byte("secret")); !errors.Is(err, common.ErrAuthentication) {
		t.Fatalf("expected common.ErrAuthentication, got %v", err)
	}
}

func TestGenerateToken_RequiresTenant(t *testing.T) {
	t.Parallel()

	if _, err := GenerateToken("", "d1", []byte("secret"), time.Hour); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected common.ErrInvalidInput, got %v", err)
	}
}
