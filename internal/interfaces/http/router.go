package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/firmador-eta/internal/application/dto"
	"github.com/jhoicas/firmador-eta/internal/application/signing"
	"github.com/jhoicas/firmador-eta/pkg/jwt"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	SignUC    *signing.SignInvoiceUseCase
	SubmitUC  *signing.SubmitInvoiceUseCase // nil si no hay credenciales del portal
	JWTSecret string                        // vacío deshabilita la autenticación
	JWTIssuer string
	Logger    *logger.Logger
}

// Router registra las rutas de la API. Se llama después de los middlewares globales.
func Router(app *fiber.App, deps RouterDeps) {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(dto.HealthResponse{Status: "ok"})
	})

	api := app.Group("/api")
	signScope := []fiber.Handler{}
	submitScope := []fiber.Handler{}
	if deps.JWTSecret != "" {
		api.Use(AuthMiddleware(deps.JWTSecret, deps.JWTIssuer))
		signScope = append(signScope, RequireScope(jwt.ScopeSign))
		submitScope = append(submitScope, RequireScope(jwt.ScopeSubmit))
	} else {
		deps.Logger.Warn().Msg("JWT_SECRET vacío: /api sin autenticación")
	}

	invoices := api.Group("/invoice")
	invoiceHandler := NewInvoiceHandler(deps.SignUC, deps.SubmitUC)
	invoices.Post("/sign", append(signScope, invoiceHandler.Sign)...)
	if deps.SubmitUC != nil {
		invoices.Post("/submit", append(submitScope, invoiceHandler.Submit)...)
	}

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "endpoint no encontrado"})
	})
}
