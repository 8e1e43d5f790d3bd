// Package domain contains entities without transport or lifecycle logic.
package domain

import "strings"

const MaxIdentityLen = 100

// Identity is the stable user name a verified peer is known by.
// It keys both the live connection and the broadcaster entry.
type Identity string

// NewIdentity validates a raw name coming from a token or a request. Names
// are taken as given: surrounding whitespace is rejected, never trimmed.
func NewIdentity(raw string) (Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrIdentityEmpty
	}
	if strings.TrimSpace(raw) != raw {
		return "", ErrIdentityPadded
	}
	if len(raw) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(raw), nil
}

func (i Identity) String() string { return string(i) }
