// Package signal is the WebSocket transport of the signaling relay.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/app/orch"
	"github.com/dkeye/Airwave/internal/core"
)

// CloseAuthFailed is sent when the token does not verify.
const CloseAuthFailed = 4001

type Options struct {
	SendBuffer   int
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingPeriod   time.Duration
	RateLimit    float64
	RateBurst    int
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:   64,
		ReadLimit:    32768,
		WriteTimeout: 5 * time.Second,
		PongWait:     60 * time.Second,
		PingPeriod:   54 * time.Second,
		RateLimit:    20,
		RateBurst:    40,
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Verifier core.IdentityVerifier
	Opts     Options
}

func NewSignalWSController(o *orch.Orchestrator, v core.IdentityVerifier, opts Options) *SignalWSController {
	return &SignalWSController{Orch: o, Verifier: v, Opts: opts}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and, if token verifies, admits the peer
// and starts its pumps. ctx bounds the lifetime of the connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, token string) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id, err := ctl.Verifier.Verify(c.Request.Context(), token)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("client", c.GetString("client_token")).Msg("rejected ws credential")
		msg := websocket.FormatCloseMessage(CloseAuthFailed, "authentication failed")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.Opts.WriteTimeout))
		_ = ws.Close()
		return
	}

	conn := newWsSignalConn(ws, ctl.Opts.SendBuffer)
	log.Info().Str("module", "signal").Str("identity", id.String()).Str("conn", conn.ID()).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ctl.Orch.OnConnect(id, conn)

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(id, conn)
}
