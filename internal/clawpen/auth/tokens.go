package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token lifetimes.
const (
	AccessTokenTTL  = 24 * time.Hour
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Token kinds carried in the claim set.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// adminSubject is the only principal this control plane knows.
const adminSubject = "admin"

// ErrInvalidToken is returned for any token that fails signature, expiry or
// kind checks. Deliberately uninformative.
var ErrInvalidToken = errors.New("auth: invalid token")

// claims is the signed claim set for both token kinds.
type claims struct {
	Kind string `json:"type"`
	jwt.RegisteredClaims
}

// issueToken signs a token of the given kind for the admin subject.
func issueToken(secret []byte, kind string, ttl time.Duration, now time.Time) (string, error) {
	c := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// parseToken validates signature, expiry and kind, and returns the claims.
func parseToken(secret []byte, raw, wantKind string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if c.Kind != wantKind || c.Subject != adminSubject {
		return nil, ErrInvalidToken
	}
	return c, nil
}
