package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ringcall/internal/auth"
	"github.com/dkeye/ringcall/internal/bus/gossip"
	"github.com/dkeye/ringcall/internal/bus/memory"
	"github.com/dkeye/ringcall/internal/bus/wsbus"
	"github.com/dkeye/ringcall/internal/config"
	"github.com/dkeye/ringcall/internal/core"
	"github.com/dkeye/ringcall/internal/domain"
)

// openBus builds the transport named by bus.driver and returns its closer.
func openBus(ctx context.Context, cfg *config.Config, self domain.Profile) (core.Bus, func(), error) {
	switch cfg.Bus.Driver {
	case "ws":
		token := cfg.Bus.Token
		if token == "" && cfg.Server.Secret != "" {
			issuer, err := auth.NewIssuer(cfg.Server.Secret, cfg.Server.TokenTTL)
			if err != nil {
				return nil, nil, err
			}
			if token, err = issuer.Issue(self); err != nil {
				return nil, nil, err
			}
			log.Info().Str("party", string(self.ID)).Msg("minted bus token from server.secret")
		}
		b, err := wsbus.Dial(ctx, wsbus.Options{
			URL:            cfg.Bus.URL,
			Token:          token,
			ReconnectDelay: cfg.Bus.ReconnectDelay,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "gossip":
		b, err := gossip.New(ctx, gossip.Options{
			Listen:    cfg.Bus.GossipListen,
			Bootstrap: cfg.Bus.GossipBootstrap,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, a := range b.Addrs() {
			fmt.Printf("bootstrap address: %s\n", a)
		}
		return b, b.Close, nil
	case "memory":
		b := memory.New()
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}
