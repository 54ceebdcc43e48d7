// Package token issues and verifies the bearer tokens that gate every
// protected endpoint.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid covers malformed, mis-signed and expired tokens alike; the
// HTTP layer maps all of them to 401.
var ErrInvalid = errors.New("invalid token")

// Claims is the token payload.
type Claims struct {
	User    string `json:"user"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Authority signs and verifies tokens with a shared HMAC secret.
type Authority struct {
	secret []byte
	expire time.Duration
	now    func() time.Time
}

// New builds an authority. The secret must be non-empty.
func New(secret string, expire time.Duration) (*Authority, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is empty")
	}
	return &Authority{secret: []byte(secret), expire: expire, now: time.Now}, nil
}

// Expire returns the configured token lifetime.
func (a *Authority) Expire() time.Duration {
	return a.expire
}

// Issue creates a signed token for user.
func (a *Authority) Issue(user string, isAdmin bool) (string, error) {
	now := a.now()
	claims := Claims{
		User:    user,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expire)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates a token string. Any failure, expiry
// included, returns ErrInvalid.
func (a *Authority) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return a.now() }))
	if err != nil || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.User == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
