// server/http/errors.go
package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/vinizap/haku/server/domain"
)

// Status maps an error to the HTTP status and message sent to clients.
// Errors outside the domain taxonomy are internal and their detail is not
// exposed.
func Status(err error) (int, string) {
	var (
		notFound   domain.NotFoundError
		authz      domain.AuthorizationError
		integrity  domain.IntegrityError
		cycle      domain.CycleError
		network    domain.NetworkError
		validation domain.ValidationError
		fiberErr   *fiber.Error
	)
	switch {
	case errors.As(err, &notFound):
		return fiber.StatusNotFound, notFound.Error()
	case errors.As(err, &authz):
		return fiber.StatusUnauthorized, authz.Error()
	case errors.As(err, &cycle):
		return fiber.StatusConflict, cycle.Error()
	case errors.As(err, &integrity):
		return fiber.StatusConflict, integrity.Error()
	case errors.As(err, &network):
		return fiber.StatusServiceUnavailable, "service unavailable"
	case errors.As(err, &validation):
		return fiber.StatusBadRequest, validation.Error()
	case errors.As(err, &fiberErr):
		return fiberErr.Code, fiberErr.Message
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}

// ErrorHandler renders errors as {"error": message} and logs internal ones.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, msg := Status(err)
		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
