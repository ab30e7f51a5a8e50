// Package server exposes the matchmaking core over HTTP: ticket submission
// and polling for players, profile registration and stats for operators.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/arenastack/matchcore"
	"github.com/arenastack/matchcore/server/handler"
)

const (
	defaultPort     = "7070"
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	app *fiber.App
	m   *matchcore.Matchmaker
	log zerolog.Logger
}

// New returns an HTTP server with handlers for every matchmaking operation.
func New(m *matchcore.Matchmaker) (*Server, error) {
	if m == nil {
		return nil, eris.New("server requires a non-nil matchmaker")
	}

	app := fiber.New(fiber.Config{
		Network:               "tcp", // Enable server listening on both ipv4 & ipv6 (default: ipv4 only)
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(cors.New())

	s := &Server{
		app: app,
		m:   m,
		log: m.Logger().With().Str("component", "matchcore.server").Logger(),
	}
	s.setupRoutes()

	return s, nil
}

// Serve serves the application, blocking the calling thread.
// Call this in a new go routine to prevent blocking.
func (s *Server) Serve(ctx context.Context) error {
	serverErr := make(chan error, 1)

	// Starts the server in a new goroutine
	go func() {
		port := s.m.Config().Port
		if port == "" {
			port = defaultPort
		}

		s.log.Info().Msgf("Starting HTTP server at port %s", port)
		if err := s.app.Listen(":" + port); err != nil {
			serverErr <- eris.Wrap(err, "error starting http server")
		}
	}()

	// This function will block until the server is shutdown or the context is canceled.
	select {
	case err := <-serverErr:
		return eris.Wrap(err, "server encountered an error")
	case <-ctx.Done():
		if err := s.shutdown(); err != nil {
			return eris.Wrap(err, "error shutting down server")
		}
	}

	return nil
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	s.log.Info().Msg("Shutting down server")

	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return eris.Wrap(err, "error shutting down server")
	}

	s.log.Info().Msg("Successfully shut down server")
	return nil
}

func (s *Server) setupRoutes() {
	// Route: /health, /stats
	s.app.Get("/health", handler.GetHealth(s.m))
	s.app.Get("/stats", handler.GetStats(s.m))

	// Route: /tickets/...
	s.app.Post("/tickets", handler.PostTicket(s.m))
	s.app.Get("/tickets/:id", handler.GetTicket(s.m))
	s.app.Delete("/tickets/:id", handler.DeleteTicket(s.m))
	s.app.Get("/tickets/:id/assignment", handler.GetAssignment(s.m))

	// Route: /profiles/...
	s.app.Post("/profiles", handler.PostProfile(s.m))
	s.app.Get("/profiles", handler.GetProfiles(s.m))
	s.app.Post("/profiles/:name/run", handler.RunProfile(s.m))
}
