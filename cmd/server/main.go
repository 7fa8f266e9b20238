package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/ringcall/internal/adapters/http"
	"github.com/dkeye/ringcall/internal/auth"
	"github.com/dkeye/ringcall/internal/config"
	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/hub"
	"github.com/dkeye/ringcall/internal/store"
	handlers "github.com/dkeye/ringcall/internal/transport/http"
)

func main() {
	mint := flag.String("mint", "", "print a bus token for this party id and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, v, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.ApplyLogLevel(cfg.LogLevel)
	config.Watch(v)

	issuer, err := auth.NewIssuer(cfg.Server.Secret, cfg.Server.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("server.secret is required")
	}

	if *mint != "" {
		tk, err := issuer.Issue(domain.Profile{ID: domain.PartyID(*mint)})
		if err != nil {
			log.Fatal().Err(err).Str("party", *mint).Msg("mint token")
		}
		fmt.Println(tk)
		return
	}

	policy, err := hub.ParsePolicy(cfg.Server.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Msg("backpressure policy")
	}
	h := hub.New(hub.Options{
		ReadLimit:  cfg.Server.ReadLimit,
		PingPeriod: cfg.Server.PingPeriod,
		SendQueue:  cfg.Server.SendQueue,
		Policy:     policy,
		Limiter:    hub.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateInterval),
	})

	var history handlers.HistoryReader
	if cfg.Store.Driver != "none" {
		records, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
		}
		defer records.Close()
		history = records

		quartz, err := store.SchedulePrune(records, cfg.Store.Retention, cfg.Store.PruneSchedule)
		if err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Store.PruneSchedule).Msg("schedule prune")
		}
		defer quartz.Stop()
		log.Info().Str("driver", cfg.Store.Driver).Dur("retention", cfg.Store.Retention).Msg("call record pruning scheduled")
	}

	r := router.SetupRouter(ctx, &cfg.Server, h, issuer, history)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("ringcall relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
