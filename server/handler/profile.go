package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"github.com/arenastack/matchcore"
	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/types"
)

// PostProfile godoc
//
//	@Summary      Registers a match profile
//	@Accept       application/json
//	@Produce      application/json
//	@Param        body  body      types.Profile  true  "Profile with pools and filters"
//	@Success      201   {object}  types.Profile
//	@Failure      400   {string}  string  "Invalid profile"
//	@Failure      409   {string}  string  "Profile already registered"
//	@Router       /profiles [post]
func PostProfile(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		profile := new(types.Profile)
		if err := ctx.BodyParser(profile); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "failed to parse request body: "+err.Error())
		}

		if err := m.RegisterProfile(profile); err != nil {
			if eris.Is(eris.Cause(err), store.ErrProfileExists) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusBadRequest, "failed to register profile: "+err.Error())
		}

		return ctx.Status(fiber.StatusCreated).JSON(profile)
	}
}

// GetProfiles godoc
//
//	@Summary      Lists registered match profiles
//	@Produce      application/json
//	@Success      200  {array}  types.Profile
//	@Router       /profiles [get]
func GetProfiles(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		return ctx.JSON(m.Profiles())
	}
}

// RunProfile godoc
//
//	@Summary      Runs the match function for one profile and returns its proposals
//	@Description  Emitted proposals hold reservations on their tickets until
//	@Description  they are assigned, released or the reservation TTL lapses.
//	@Produce      application/json
//	@Param        name  path      string  true  "Profile name"
//	@Success      200   {array}   types.MatchProposal
//	@Failure      404   {string}  string  "Unknown profile"
//	@Router       /profiles/{name}/run [post]
func RunProfile(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		stream, err := m.RunMatchFunction(ctx.Context(), ctx.Params("name"))
		if err != nil {
			if eris.Is(eris.Cause(err), store.ErrProfileNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to run match function: "+err.Error())
		}

		proposals := make([]*types.MatchProposal, 0)
		for proposal := range stream {
			proposals = append(proposals, proposal)
		}

		return ctx.JSON(proposals)
	}
}
