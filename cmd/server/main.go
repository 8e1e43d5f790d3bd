package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Airwave/internal/adapters/auth"
	router "github.com/dkeye/Airwave/internal/adapters/http"
	"github.com/dkeye/Airwave/internal/adapters/metrics"
	sig "github.com/dkeye/Airwave/internal/adapters/signal"
	"github.com/dkeye/Airwave/internal/adapters/storage"
	"github.com/dkeye/Airwave/internal/app"
	"github.com/dkeye/Airwave/internal/app/orch"
	"github.com/dkeye/Airwave/internal/config"
	"github.com/dkeye/Airwave/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(lc config.LogConfig) {
	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

type closer func()

func openStore(ctx context.Context, sc config.StoreConfig) (core.SessionStore, closer, error) {
	switch sc.Driver {
	case "postgres":
		p, err := storage.Connect(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "redis":
		r, err := storage.DialRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB, sc.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeStore()

	clock := clockwork.NewRealClock()
	n, err := store.EndActive(ctx, clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("end sessions left active by a previous run: %w", err)
	}
	if n > 0 {
		log.Info().Int("count", n).Msg("ended sessions left active by a previous run")
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	policy, err := app.PolicyByName(cfg.Signal.Backpressure)
	if err != nil {
		return err
	}

	reg := app.NewRegistry(store, app.WithClock(clock), app.WithStoreTimeout(cfg.Store.Timeout))
	m := metrics.New(reg)
	o := &orch.Orchestrator{
		Registry: reg,
		Policy:   policy,
		Metrics:  m,
		Clock:    clock,
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:     o,
		Verifier: verifier,
		Store:    store,
		Metrics:  m.Handler(),
		Signal: sig.Options{
			SendBuffer:   cfg.Signal.SendBuffer,
			ReadLimit:    cfg.Signal.ReadLimit,
			WriteTimeout: cfg.Signal.WriteTimeout,
			PongWait:     cfg.Signal.PongWait,
			PingPeriod:   cfg.Signal.PingPeriod,
			RateLimit:    cfg.Signal.RateLimit,
			RateBurst:    cfg.Signal.RateBurst,
		},
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Airwave server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return o.RunReaper(gctx, cfg.Store.ReaperInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}
