package domain

import "errors"

var (
	ErrIdentityEmpty   = errors.New("identity empty")
	ErrIdentityTooLong = errors.New("identity too long")
	ErrIdentityPadded  = errors.New("identity has surrounding whitespace")

	ErrAuthRejected     = errors.New("auth rejected")
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownTarget    = errors.New("unknown target")
	ErrStorageFailure   = errors.New("storage failure")

	ErrNotConnected        = errors.New("identity not connected")
	ErrAlreadyBroadcasting = errors.New("already broadcasting")
	ErrIdentityTaken       = errors.New("identity already connected")
	ErrSessionNotFound     = errors.New("session not found")
)
