package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/arenastack/matchcore"
)

type HealthResponse struct {
	IsServerRunning   bool `json:"is_server_running"`
	IsDirectorRunning bool `json:"is_director_running"`
}

// GetHealth godoc
//
//	@Summary      Reports liveness of the server and the director loop
//	@Produce      application/json
//	@Success      200  {object}  HealthResponse
//	@Router       /health [get]
func GetHealth(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		return ctx.JSON(HealthResponse{
			IsServerRunning:   true,
			IsDirectorRunning: m.Director().IsRunning(),
		})
	}
}

// GetStats godoc
//
//	@Summary      Reports queue depths and the tick counter
//	@Produce      application/json
//	@Success      200  {object}  matchcore.Stats
//	@Router       /stats [get]
func GetStats(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		stats, err := m.Stats(ctx.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to collect stats: "+err.Error())
		}

		return ctx.JSON(stats)
	}
}
