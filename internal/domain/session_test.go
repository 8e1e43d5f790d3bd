package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity("alice")
	require.NoError(t, err)
	assert.Equal(t, Identity("alice"), id)

	id, err = NewIdentity(strings.Repeat("x", MaxIdentityLen))
	require.NoError(t, err)
	assert.Len(t, id.String(), MaxIdentityLen)

	_, err = NewIdentity("   ")
	assert.ErrorIs(t, err, ErrIdentityEmpty)

	for _, raw := range []string{"alice ", " alice", "alice\n", "\talice"} {
		_, err = NewIdentity(raw)
		assert.ErrorIs(t, err, ErrIdentityPadded, "%q", raw)
	}

	_, err = NewIdentity(strings.Repeat("x", MaxIdentityLen+1))
	assert.ErrorIs(t, err, ErrIdentityTooLong)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, DefaultTitle, NormalizeTitle(""))
	assert.Equal(t, "Demo", NormalizeTitle(" Demo "))
	assert.Len(t, []rune(NormalizeTitle(strings.Repeat("é", 150))), MaxTitleLen)
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Skip: 0, Limit: DefaultPageLimit}, Page{Skip: -3}.Normalize())
	assert.Equal(t, Page{Skip: 20, Limit: MaxPageLimit}, Page{Skip: 20, Limit: 1000}.Normalize())
}

func TestSessionUpdateApply(t *testing.T) {
	s := Session{ID: "s1", Owner: "alice", Active: true, ViewerCount: 2}
	ended := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	inactive := false
	owner := Identity("alicia")

	SessionUpdate{EndedAt: &ended, Active: &inactive, Owner: &owner}.Apply(&s)

	assert.False(t, s.Active)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, ended, *s.EndedAt)
	assert.Equal(t, owner, s.Owner)
	assert.Equal(t, 2, s.ViewerCount)

	ended = ended.Add(time.Hour)
	assert.NotEqual(t, ended, *s.EndedAt, "Apply must copy the timestamp")
}
