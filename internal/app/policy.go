package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/Airwave/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

// Policy decides what happens to a peer whose outbound queue rejected a frame.
type Policy interface {
	OnBackPressure(d core.Dropped) BackpressureAction
}

// DropPolicy discards the frame and keeps the peer.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.Dropped) BackpressureAction { return DropFrame }

// KickPolicy closes a peer that cannot keep up; its read loop then runs the
// normal disconnect teardown.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(d core.Dropped) BackpressureAction {
	if errors.Is(d.Err, core.ErrConnClosed) {
		return NoAction
	}
	return KickPeer
}

// PolicyByName maps the config value to a policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
