package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Airwave/internal/domain"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier("secret", "airwave")
	require.NoError(t, err)

	tok, err := v.Issue("alice", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), id)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v, err := NewJWTVerifier("secret", "airwave")
	require.NoError(t, err)
	other, err := NewJWTVerifier("other", "airwave")
	require.NoError(t, err)
	foreign, err := NewJWTVerifier("secret", "someone-else")
	require.NoError(t, err)

	expired, err := v.Issue("alice", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := other.Issue("alice", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue("alice", time.Hour)
	require.NoError(t, err)
	noSubject, err := v.Issue("", time.Hour)
	require.NoError(t, err)
	padded, err := v.Issue("alice ", time.Hour)
	require.NoError(t, err)
	leading, err := v.Issue(" alice", time.Hour)
	require.NoError(t, err)
	tooLong, err := v.Issue(domain.Identity(strings.Repeat("a", domain.MaxIdentityLen+1)), time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice", Issuer: "airwave"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"expired":       expired,
		"wrong key":     wrongKey,
		"wrong issuer":  wrongIssuer,
		"no subject":    noSubject,
		"alg none":      none,
		"padded":        padded,
		"leading space": leading,
		"too long":      tooLong,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tok)
			assert.ErrorIs(t, err, domain.ErrAuthRejected)
		})
	}
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier("", "")
	assert.Error(t, err)
}

func TestJWTVerifier_LongSubject(t *testing.T) {
	v, err := NewJWTVerifier("secret", "airwave")
	require.NoError(t, err)

	for _, n := range []int{37, 50, domain.MaxIdentityLen} {
		name := domain.Identity(strings.Repeat("a", n))
		tok, err := v.Issue(name, time.Hour)
		require.NoError(t, err)

		id, err := v.Verify(context.Background(), tok)
		require.NoError(t, err, "length %d", n)
		assert.Equal(t, name, id)
	}
}

func TestJWTVerifier_PaddedSubjectIsNotAnotherUser(t *testing.T) {
	v, err := NewJWTVerifier("secret", "airwave")
	require.NoError(t, err)

	tok, err := v.Issue("alice ", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, domain.ErrAuthRejected)
	assert.ErrorIs(t, err, domain.ErrIdentityPadded)
	assert.Empty(t, id)
}
