package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/domain"
)

func (ctl *SignalWSController) writePump(ctx context.Context, id domain.Identity, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("identity", id.String()).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("identity", id.String()).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("identity", id.String()).Msg("writePump ping failed")
				return
			}
		}
	}
}

// readPump owns the disconnect: whatever ends it, the orchestrator tears the
// handle down exactly once.
func (ctl *SignalWSController) readPump(id domain.Identity, c *WsSignalConn) {
	defer func() {
		ctl.Orch.OnDisconnect(c)
		c.Close()
		log.Info().Str("module", "signal").Str("identity", id.String()).Str("conn", c.ID()).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	limiter := newInboundLimiter(ctl.Opts.RateLimit, ctl.Opts.RateBurst)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				log.Debug().Err(err).Str("module", "signal").Str("identity", id.String()).Msg("readPump read error")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		ok, exhausted := limiter.Allow()
		if exhausted {
			log.Warn().Str("module", "signal").Str("identity", id.String()).Msg("rate limit exhausted, closing")
			return
		}
		if !ok {
			continue
		}
		ctl.Orch.OnMessage(c, data)
	}
}
