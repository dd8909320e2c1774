// Package auth issues and verifies the device tokens sync clients present.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

// Claims binds a token to one tenant and names the device it was issued to.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
	DeviceID string `json:"did"`
}

func GenerateToken(tenantID, deviceID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant id is required", common.ErrInvalidInput)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		TenantID: tenantID,
		DeviceID: deviceID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies signature and expiry. Expired tokens give
// common.ErrSessionExpired, anything else common.ErrAuthentication.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: device token", common.ErrSessionExpired)
	}
	if err != nil || !token.Valid || claims.TenantID == "" {
		return nil, fmt.Errorf("%w: invalid device token", common.ErrAuthentication)
	}

	return claims, nil
}
