package signal

import (
	"golang.org/x/time/rate"
)

// maxStrikes is how many frames in a row a peer may have rejected before it
// is disconnected.
const maxStrikes = 50

// inboundLimiter throttles the frames of one connection. Frames over the
// limit are dropped; a peer that stays over it is cut off.
type inboundLimiter struct {
	lim     *rate.Limiter
	strikes int
}

// newInboundLimiter returns nil when limit is not positive, which disables
// throttling.
func newInboundLimiter(limit float64, burst int) *inboundLimiter {
	if limit <= 0 {
		return nil
	}
	return &inboundLimiter{lim: rate.NewLimiter(rate.Limit(limit), max(burst, 1))}
}

// Allow reports whether the next frame may be handled and whether the peer
// has exhausted its strikes.
func (l *inboundLimiter) Allow() (ok, exhausted bool) {
	if l == nil {
		return true, false
	}
	if l.lim.Allow() {
		l.strikes = 0
		return true, false
	}
	l.strikes++
	return false, l.strikes >= maxStrikes
}
