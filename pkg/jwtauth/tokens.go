package jwtauth

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// AdminClaims is the payload carried by an admin bearer token.
type AdminClaims struct {
	Subject string `json:"sub"`
	jwtlib.RegisteredClaims
}

// GenerateAdminToken issues a signed admin token with the given ttl.
func GenerateAdminToken(subject, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Subject: subject,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "apistatus-guard",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAdminToken validates and extracts claims from an admin bearer token.
func ParseAdminToken(token, secret string) (*AdminClaims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &AdminClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*AdminClaims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
