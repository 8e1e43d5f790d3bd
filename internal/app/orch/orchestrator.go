package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/app"
	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

// Observer receives routing events. Metrics implements it.
type Observer interface {
	MessageHandled(kind core.Kind)
	MessageRejected()
	FrameDropped()
	PeerKicked()
	BroadcastEnded(orphan bool)
}

type nopObserver struct{}

func (nopObserver) MessageHandled(core.Kind) {}
func (nopObserver) MessageRejected()         {}
func (nopObserver) FrameDropped()            {}
func (nopObserver) PeerKicked()              {}
func (nopObserver) BroadcastEnded(bool)      {}

// Orchestrator routes inbound signaling messages over the registry and fans
// out the resulting notifications.
type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
	Metrics  Observer
	Clock    clockwork.Clock

	// announceMu orders list snapshots with their enqueue so peers never
	// receive an older broadcasters_list after a newer one.
	announceMu sync.Mutex
}

var _ core.Handler = (*Orchestrator)(nil)

func (o *Orchestrator) observer() Observer {
	if o.Metrics == nil {
		return nopObserver{}
	}
	return o.Metrics
}

func (o *Orchestrator) clock() clockwork.Clock {
	if o.Clock == nil {
		return clockwork.NewRealClock()
	}
	return o.Clock
}

// OnConnect registers an authenticated handle. A handle previously held by
// the same identity is closed without a message.
func (o *Orchestrator) OnConnect(id domain.Identity, conn core.SignalConnection) {
	if prev := o.Registry.Admit(id, conn); prev != nil {
		prev.Close()
	}
}

// OnMessage handles one raw frame from conn. Frames from handles that are no
// longer registered and malformed frames are dropped.
func (o *Orchestrator) OnMessage(conn core.SignalConnection, data []byte) {
	from, ok := o.Registry.IdentityOf(conn)
	if !ok {
		log.Debug().Str("module", "orch").Msg("frame from unregistered handle dropped")
		return
	}
	msg, err := core.Parse(data)
	if err != nil {
		o.observer().MessageRejected()
		log.Debug().Err(err).Str("module", "orch").Str("identity", from.String()).Msg("malformed message dropped")
		return
	}
	msg.Dispatch(o, from)
	o.observer().MessageHandled(msg.Kind())
}

// OnDisconnect runs the teardown for a closed handle. Safe to call more than
// once; a replaced handle does nothing.
func (o *Orchestrator) OnDisconnect(conn core.SignalConnection) {
	td := o.Registry.Disconnect(context.Background(), conn)
	if td.StopErr != nil {
		log.Warn().Err(td.StopErr).Str("module", "orch").Str("identity", td.Identity.String()).Msg("broadcast left for reaper")
	}
	if td.Stopped != nil {
		o.observer().BroadcastEnded(false)
		o.announce(td.Identity, core.NewBroadcastStopped(td.Identity))
	}
	if td.Removed {
		log.Info().Str("module", "orch").Str("identity", td.Identity.String()).Msg("peer disconnected")
	}
}

// fanout encodes msgs and queues them, in order, on every live handle.
func (o *Orchestrator) fanout(cause domain.Identity, msgs ...any) {
	frames, ok := encodeAll(msgs)
	if !ok {
		return
	}
	o.broadcast(cause, frames)
}

// announce fans out msgs followed by a broadcasters_list taken at enqueue
// time. Snapshots reach every handle in the order they were taken.
func (o *Orchestrator) announce(cause domain.Identity, msgs ...any) {
	o.announceMu.Lock()
	defer o.announceMu.Unlock()
	frames, ok := encodeAll(append(msgs, core.NewBroadcastersList(o.Registry.ListBroadcasters())))
	if !ok {
		return
	}
	o.broadcast(cause, frames)
}

func (o *Orchestrator) broadcast(cause domain.Identity, frames []core.Frame) {
	res := o.Registry.Broadcast("", frames...)
	o.applyPolicy(res)
	log.Debug().Str("module", "orch").Str("cause", cause.String()).Int("sent_to", res.SendTo).Msg("fanout")
}

// unicast queues msgs on to's handle. An absent target is not an error for
// the sender; the message is dropped.
func (o *Orchestrator) unicast(to domain.Identity, msgs ...any) {
	frames, ok := encodeAll(msgs)
	if !ok {
		return
	}
	res, err := o.Registry.Send(to, frames...)
	if errors.Is(err, domain.ErrUnknownTarget) {
		log.Debug().Str("module", "orch").Str("target", to.String()).Msg("target not connected, dropped")
		return
	}
	o.applyPolicy(res)
}

func (o *Orchestrator) applyPolicy(res core.PublishResult) {
	for _, d := range res.Dropped {
		o.observer().FrameDropped()
		if o.Policy == nil {
			continue
		}
		switch o.Policy.OnBackPressure(d) {
		case app.KickPeer:
			o.observer().PeerKicked()
			log.Warn().Str("module", "orch").Str("identity", d.Identity.String()).Msg("kicking slow peer")
			d.Conn.Close()
		case app.DropFrame:
			log.Debug().Err(d.Err).Str("module", "orch").Str("identity", d.Identity.String()).Msg("frame dropped")
		case app.NoAction:
		}
	}
}

func encodeAll(msgs []any) ([]core.Frame, bool) {
	frames := make([]core.Frame, 0, len(msgs))
	for _, m := range msgs {
		f, err := core.Encode(m)
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("encode outbound message")
			return nil, false
		}
		frames = append(frames, f)
	}
	return frames, true
}
