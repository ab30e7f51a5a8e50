package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the envelope every failing endpoint returns.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message inside an ErrorResponse.
type ErrorDetail struct {
	Message string `json:"message"`
}

// errorHandler renders errors returned by handlers as JSON. fiber errors
// keep their status code, anything else becomes a 500.
func errorHandler(ctx *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
	}

	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	return ctx.Status(status).JSON(ErrorResponse{Error: ErrorDetail{Message: err.Error()}})
}
