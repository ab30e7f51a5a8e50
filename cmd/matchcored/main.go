// Command matchcored runs the matchmaking service: the HTTP frontend for
// players and operators, and the director loop that forms and assigns
// matches.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/arenastack/matchcore"
	"github.com/arenastack/matchcore/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := matchcore.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	m, err := matchcore.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build matchmaker")
	}

	srv, err := server.New(m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Start(ctx) })
	g.Go(func() error { return srv.Serve(ctx) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("matchcored exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
