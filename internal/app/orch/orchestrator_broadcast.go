package orch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

func (o *Orchestrator) OnStartBroadcast(from domain.Identity, m core.StartBroadcast) {
	s, _, err := o.Registry.StartBroadcast(context.Background(), from, m.Title)
	switch {
	case errors.Is(err, domain.ErrAlreadyBroadcasting):
		log.Info().Str("module", "orch").Str("identity", from.String()).Msg("duplicate start_broadcast ignored")
		return
	case err != nil:
		log.Error().Err(err).Str("module", "orch").Str("identity", from.String()).Msg("start_broadcast failed")
		return
	}
	o.announce(from, core.NewBroadcastStarted(s))
}

func (o *Orchestrator) OnStopBroadcast(from domain.Identity, _ core.StopBroadcast) {
	_, _, stopped, err := o.Registry.StopBroadcast(context.Background(), from)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("identity", from.String()).Msg("stop_broadcast failed")
		return
	}
	if !stopped {
		return
	}
	o.observer().BroadcastEnded(false)
	o.announce(from, core.NewBroadcastStopped(from))
}

func (o *Orchestrator) OnViewerJoined(from domain.Identity, m core.ViewerJoined) {
	o.adjustViewers(from, m.Target, 1)
}

func (o *Orchestrator) OnViewerLeft(from domain.Identity, m core.ViewerLeft) {
	o.adjustViewers(from, m.Target, -1)
}

func (o *Orchestrator) adjustViewers(from, target domain.Identity, delta int) {
	count, ok, err := o.Registry.AdjustViewerCount(context.Background(), target, delta)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("identity", from.String()).Str("target", target.String()).Msg("viewer count not updated")
		return
	}
	if !ok {
		log.Debug().Str("module", "orch").Str("target", target.String()).Msg("viewer change for non-broadcaster ignored")
		return
	}
	o.unicast(target, core.NewViewerCountUpdate(target, count))
}

func (o *Orchestrator) OnGetBroadcasters(from domain.Identity, _ core.GetBroadcasters) {
	o.unicast(from, core.NewBroadcastersList(o.Registry.ListBroadcasters()))
}

// Rename moves a connected identity to newID. Everyone is told when the
// identity was broadcasting.
func (o *Orchestrator) Rename(ctx context.Context, oldID, newID domain.Identity) error {
	res, err := o.Registry.Rename(ctx, oldID, newID)
	if err != nil {
		return err
	}
	if res.WasBroadcasting {
		o.fanout(newID, core.NewUsernameChanged(oldID, newID))
	}
	return nil
}

// RunReaper ends, every interval, broadcasts whose owner is gone but whose
// stop could not be persisted at disconnect. Returns when ctx is done.
func (o *Orchestrator) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := o.clock().NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			o.ReapOnce(ctx)
		}
	}
}

// ReapOnce runs one reaper pass.
func (o *Orchestrator) ReapOnce(ctx context.Context) {
	ended, _, err := o.Registry.ReapOrphans(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("reaper pass incomplete")
	}
	if len(ended) == 0 {
		return
	}
	msgs := make([]any, 0, len(ended))
	for _, s := range ended {
		o.observer().BroadcastEnded(true)
		msgs = append(msgs, core.NewBroadcastStopped(s.Owner))
	}
	o.announce("", msgs...)
}
