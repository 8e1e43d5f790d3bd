package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/adapters/signal"
	"github.com/dkeye/Airwave/internal/app/orch"
	"github.com/dkeye/Airwave/internal/config"
	"github.com/dkeye/Airwave/internal/core"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware gives every browser a stable random id, kept in the
// session cookie, so its requests can be correlated in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

type Deps struct {
	Orch     *orch.Orchestrator
	Verifier core.IdentityVerifier
	Store    core.SessionStore
	Signal   signal.Options
	Metrics  http.Handler
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("AirwaveSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	h := &handlers{orch: d.Orch, verifier: d.Verifier, store: d.Store}
	ctrl := signal.NewSignalWSController(d.Orch, d.Verifier, d.Signal)

	r.GET("/healthz", h.health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	r.GET("/ws/:token", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c, c.Param("token"))
	})

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c, c.Query("token"))
	})
	api.GET("/streams/active", h.listStreams)
	api.GET("/streams/ended", h.listStreams)
	api.GET("/broadcasters", h.broadcasters)
	api.POST("/users/rename", h.rename)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
