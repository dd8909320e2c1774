package session

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the signed body of a session token. The token's hard expiry is
// the session's maximum lifetime; the sliding expiry lives server-side.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
}

func signToken(secret []byte, sid, tenantID, email string, issued, hardExpiry time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(hardExpiry),
		},
		TenantID: tenantID,
	})
	return token.SignedString(secret)
}

// parseToken verifies the signature and, unless skipExpiry is set, the
// expiry. An expired token maps to common.ErrSessionExpired, anything else
// to common.ErrSessionInvalid.
func parseToken(secret []byte, tokenString string, now func() time.Time, skipExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	}
	if skipExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, common.ErrSessionExpired
		}
		return nil, common.ErrSessionInvalid
	}
	if !token.Valid || claims.ID == "" {
		return nil, common.ErrSessionInvalid
	}
	return claims, nil
}
