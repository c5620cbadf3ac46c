package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/firmador-eta/internal/application/dto"
	"github.com/jhoicas/firmador-eta/internal/domain"
)

// errorMapping traduce un error del dominio a código HTTP y código de negocio.
// El orden importa: un StageError expone a la vez su Kind y la causa original.
var errorMapping = []struct {
	kind   error
	status int
	code   string
}{
	{errEmptyBody, fiber.StatusBadRequest, "EMPTY_BODY"},
	{domain.ErrInvalidInput, fiber.StatusBadRequest, "INVALID_BODY"},
	{domain.ErrCanonicalization, fiber.StatusUnprocessableEntity, "CANONICALIZATION"},
	{domain.ErrSignerBusy, fiber.StatusServiceUnavailable, "SIGNER_BUSY"},
	{domain.ErrSignerTimeout, fiber.StatusGatewayTimeout, "SIGNER_TIMEOUT"},
	{domain.ErrSignerRejected, fiber.StatusBadGateway, "SIGNER_REJECTED"},
	{domain.ErrSignerUnavailable, fiber.StatusServiceUnavailable, "SIGNER_UNAVAILABLE"},
	{domain.ErrEncoding, fiber.StatusInternalServerError, "ENCODING"},
	{domain.ErrAuthority, fiber.StatusBadGateway, "AUTHORITY"},
	{domain.ErrUnauthorized, fiber.StatusUnauthorized, "UNAUTHORIZED"},
}

// writeError responde con dto.ErrorResponse según el tipo de error.
func writeError(c *fiber.Ctx, err error) error {
	for _, m := range errorMapping {
		if errors.Is(err, m.kind) {
			return c.Status(m.status).JSON(dto.ErrorResponse{Code: m.code, Message: err.Error()})
		}
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

// ErrorHandler para fiber.Config: errores no atendidos por los handlers.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := "INTERNAL"
		switch fe.Code {
		case fiber.StatusNotFound:
			code = "NOT_FOUND"
		case fiber.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		case fiber.StatusRequestEntityTooLarge:
			code = "BODY_TOO_LARGE"
		case fiber.StatusBadRequest:
			code = "INVALID_BODY"
		}
		return c.Status(fe.Code).JSON(dto.ErrorResponse{Code: code, Message: fe.Message})
	}
	return writeError(c, err)
}
