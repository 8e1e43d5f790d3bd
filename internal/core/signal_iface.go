package core

import (
	"errors"

	"github.com/dkeye/Airwave/internal/domain"
)

// Frame is one encoded text message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts a peer's messaging transport.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: it enqueues or fails with ErrBackpressure / ErrConnClosed.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Dropped is one recipient a delivery could not be queued for.
type Dropped struct {
	Identity domain.Identity
	Conn     SignalConnection
	Err      error
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []Dropped
}
