// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

// JWTVerifier accepts HS256 tokens whose subject is the identity.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ core.IdentityVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: empty token", domain.ErrAuthRejected)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuthRejected, err)
	}

	id, err := domain.NewIdentity(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: subject: %w", domain.ErrAuthRejected, err)
	}
	return id, nil
}

// Issue signs a token for id. Used by tests and local tooling.
func (v *JWTVerifier) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
