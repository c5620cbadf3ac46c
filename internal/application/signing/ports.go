package signing

import (
	"context"

	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/cms"
)

// EnvelopeBuilder construye el sobre CAdES-BES de un documento.
// *cms.Builder lo implementa; en pruebas se puede inyectar un doble.
type EnvelopeBuilder interface {
	Sign(ctx context.Context, doc *invoice.Document) (*cms.Envelope, error)
}
