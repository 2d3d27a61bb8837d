package server

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/mailboard/internal/apperr"
)

// statusOf maps an error kind to an HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.NotAuthorized, apperr.ReauthorizationRequired:
		return fiber.StatusUnauthorized
	case apperr.InvalidOAuthState, apperr.Invalid, apperr.UnknownProvider:
		return fiber.StatusBadRequest
	case apperr.NotFound:
		return fiber.StatusNotFound
	case apperr.Unsupported:
		return fiber.StatusMethodNotAllowed
	case apperr.Decryption:
		return fiber.StatusConflict
	case apperr.RefreshFailed, apperr.ProviderUnavailable:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// errorHandler renders every error returned by a handler as
// {"error": message, "kind": kind}.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "kind": "http"})
		}

		kind := apperr.KindOf(err)
		code := statusOf(kind)
		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error(), "kind": kind.String()})
	}
}
