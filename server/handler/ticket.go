// Package handler implements the HTTP handlers for the matchmaking API.
package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"github.com/arenastack/matchcore"
	"github.com/arenastack/matchcore/store"
	"github.com/arenastack/matchcore/types"
)

// CreateTicketRequest is the body for ticket creation.
type CreateTicketRequest struct {
	SearchFields types.SearchFields `json:"search_fields"`
	Extensions   types.Extensions   `json:"extensions,omitempty"`
}

// GetAssignmentResponse reports a ticket's assignment. Assignment stays empty
// until a match went out; clients poll until it is set.
type GetAssignmentResponse struct {
	TicketID   string            `json:"ticket_id"`
	Assignment *types.Assignment `json:"assignment,omitempty"`
}

// CancelTicketResponse confirms a cancellation.
type CancelTicketResponse struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// PostTicket godoc
//
//	@Summary      Creates a matchmaking ticket
//	@Accept       application/json
//	@Produce      application/json
//	@Param        body  body      CreateTicketRequest  true  "Search fields and extensions"
//	@Success      201   {object}  types.Ticket
//	@Failure      400   {string}  string  "Invalid ticket"
//	@Router       /tickets [post]
func PostTicket(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		req := new(CreateTicketRequest)
		if err := ctx.BodyParser(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "failed to parse request body: "+err.Error())
		}

		ticket, err := m.CreateTicket(ctx.Context(), req.SearchFields, req.Extensions)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "failed to create ticket: "+err.Error())
		}

		return ctx.Status(fiber.StatusCreated).JSON(ticket)
	}
}

// GetTicket godoc
//
//	@Summary      Returns a ticket's current state
//	@Produce      application/json
//	@Param        id   path      string  true  "Ticket id"
//	@Success      200  {object}  types.Ticket
//	@Failure      404  {string}  string  "Unknown ticket"
//	@Router       /tickets/{id} [get]
func GetTicket(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		ticket, err := m.Ticket(ctx.Context(), ctx.Params("id"))
		if err != nil {
			if eris.Is(eris.Cause(err), store.ErrTicketNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to get ticket: "+err.Error())
		}

		return ctx.JSON(ticket)
	}
}

// DeleteTicket godoc
//
//	@Summary      Cancels a ticket
//	@Produce      application/json
//	@Param        id   path      string  true  "Ticket id"
//	@Success      200  {object}  CancelTicketResponse
//	@Failure      404  {string}  string  "Unknown ticket"
//	@Failure      409  {string}  string  "Ticket is held by a live proposal"
//	@Router       /tickets/{id} [delete]
func DeleteTicket(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		id := ctx.Params("id")
		if err := m.CancelTicket(ctx.Context(), id); err != nil {
			switch {
			case eris.Is(eris.Cause(err), store.ErrTicketNotFound):
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			case eris.Is(eris.Cause(err), store.ErrTicketReserved):
				return fiber.NewError(fiber.StatusConflict, err.Error())
			default:
				return fiber.NewError(fiber.StatusInternalServerError, "failed to cancel ticket: "+err.Error())
			}
		}

		return ctx.JSON(CancelTicketResponse{TicketID: id, Status: "cancelled"})
	}
}

// GetAssignment godoc
//
//	@Summary      Returns a ticket's server assignment, empty while waiting
//	@Produce      application/json
//	@Param        id   path      string  true  "Ticket id"
//	@Success      200  {object}  GetAssignmentResponse
//	@Failure      404  {string}  string  "Unknown ticket"
//	@Router       /tickets/{id}/assignment [get]
func GetAssignment(m *matchcore.Matchmaker) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		id := ctx.Params("id")
		assignment, err := m.Assignment(ctx.Context(), id)
		if err != nil {
			if eris.Is(eris.Cause(err), store.ErrTicketNotFound) {
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to get assignment: "+err.Error())
		}

		return ctx.JSON(GetAssignmentResponse{TicketID: id, Assignment: assignment})
	}
}
