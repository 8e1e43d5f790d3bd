package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

// OnRelay forwards an offer, answer or ICE candidate to its target, tagged
// with the sender. The payload is not inspected beyond parsing.
func (o *Orchestrator) OnRelay(from domain.Identity, m core.Relay) {
	log.Debug().Str("module", "orch").Str("kind", string(m.Type)).Str("from", from.String()).Str("target", m.Target.String()).Msg("relay")
	o.unicast(m.Target, core.NewRelayedSignal(m, from))
}

func (o *Orchestrator) OnPing(from domain.Identity, _ core.Ping) {
	o.unicast(from, core.NewPong())
}
