package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// HeaderRequestID encabezado de correlación entre cliente y logs.
const HeaderRequestID = "X-Request-ID"

// RequestLogger registra cada petición y su respuesta. Los cuerpos contienen
// datos del contribuyente: solo se registran en nivel debug.
func RequestLogger(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqID := c.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(HeaderRequestID, reqID)

		log.Debug().
			Str("request_id", reqID).
			Bytes("body", c.Body()).
			Msg("REQUEST")

		err := c.Next()
		if err != nil {
			// deja que el ErrorHandler escriba la respuesta antes de medir el status
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		ev := log.Info()
		if status >= fiber.StatusInternalServerError {
			ev = log.Error()
		} else if status >= fiber.StatusBadRequest {
			ev = log.Warn()
		}
		ev.Str("request_id", reqID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_id", GetClientID(c)).
			Msg("RESPONSE")
		log.Debug().
			Str("request_id", reqID).
			Bytes("body", c.Response().Body()).
			Msg("RESPONSE body")
		return nil
	}
}
