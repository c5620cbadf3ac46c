package http

import (
	"bytes"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/firmador-eta/internal/application/dto"
	"github.com/jhoicas/firmador-eta/internal/application/signing"
	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
)

// InvoiceHandler firma y envía documentos de la autoridad tributaria.
type InvoiceHandler struct {
	sign   *signing.SignInvoiceUseCase
	submit *signing.SubmitInvoiceUseCase
}

// NewInvoiceHandler construye el handler. submit puede ser nil si no hay credenciales del portal.
func NewInvoiceHandler(sign *signing.SignInvoiceUseCase, submit *signing.SubmitInvoiceUseCase) *InvoiceHandler {
	return &InvoiceHandler{sign: sign, submit: submit}
}

// Sign firma el documento y lo devuelve con el arreglo signatures.
// POST /api/invoice/sign
func (h *InvoiceHandler) Sign(c *fiber.Ctx) error {
	doc, err := parseDocument(c.Body())
	if err != nil {
		return writeError(c, err)
	}
	signed, err := h.sign.Sign(c.Context(), doc)
	if err != nil {
		return writeError(c, err)
	}
	out, err := signed.MarshalJSON()
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Status(fiber.StatusOK).Send(out)
}

// Submit firma el documento y lo envía al portal.
// POST /api/invoice/submit
func (h *InvoiceHandler) Submit(c *fiber.Ctx) error {
	if h.submit == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "SUBMIT_DISABLED", Message: "credenciales del portal no configuradas"})
	}
	doc, err := parseDocument(c.Body())
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.submit.Submit(c.Context(), doc)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// errEmptyBody cuerpo ausente o {}.
var errEmptyBody = fmt.Errorf("%w: se requiere el cuerpo de la petición", domain.ErrInvalidInput)

// parseDocument conserva el orden de campos del cuerpo.
func parseDocument(body []byte) (*invoice.Document, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	doc, err := invoice.ParseJSON(body)
	if err != nil {
		return nil, err
	}
	if doc.Len() == 0 {
		return nil, errEmptyBody
	}
	return doc, nil
}
