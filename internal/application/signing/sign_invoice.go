package signing

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/cms"
	"github.com/jhoicas/firmador-eta/pkg/eta"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// SignInvoiceUseCase firma documentos de la autoridad tributaria.
type SignInvoiceUseCase struct {
	builder EnvelopeBuilder
	log     *logger.Logger
}

// NewSignInvoiceUseCase construye el caso de uso.
func NewSignInvoiceUseCase(builder EnvelopeBuilder, log *logger.Logger) *SignInvoiceUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &SignInvoiceUseCase{builder: builder, log: log}
}

// SignEnvelope devuelve el sobre CMS en base64, listo para signatures[].value.
func (uc *SignInvoiceUseCase) SignEnvelope(ctx context.Context, doc *invoice.Document) (string, error) {
	env, err := uc.envelope(ctx, doc)
	if err != nil {
		return "", err
	}
	return env.Base64(), nil
}

// Sign devuelve el documento normalizado con signatures:[{signatureType:"I", value}].
// Se devuelve la forma normalizada porque es la que la autoridad vuelve a canonicalizar.
func (uc *SignInvoiceUseCase) Sign(ctx context.Context, doc *invoice.Document) (*invoice.Document, error) {
	env, err := uc.envelope(ctx, doc)
	if err != nil {
		return nil, err
	}
	return invoice.WithSignature(env.Normalized, eta.SignatureTypeIssuer, env.Base64()), nil
}

func (uc *SignInvoiceUseCase) envelope(ctx context.Context, doc *invoice.Document) (*cms.Envelope, error) {
	if doc == nil || doc.Len() == 0 {
		return nil, fmt.Errorf("%w: documento vacío", domain.ErrInvalidInput)
	}
	uc.checkCatalogues(doc)

	env, err := uc.builder.Sign(ctx, doc)
	if err != nil {
		return nil, err
	}
	uc.log.Info().
		Str("internal_id", textField(doc, "internalID")).
		Time("signing_time", env.SigningTime).
		Int("envelope_bytes", len(env.DER)).
		Msg("documento firmado")
	return env, nil
}

// checkCatalogues solo advierte: la validación de negocio corresponde a la autoridad.
func (uc *SignInvoiceUseCase) checkCatalogues(doc *invoice.Document) {
	docType := strings.ToUpper(textField(doc, invoice.DocumentTypeField))
	if !eta.ValidDocumentTypes[docType] {
		uc.log.Warn().Str("document_type", docType).Msg("documentType fuera del catálogo")
	}
	if v := textField(doc, "documentTypeVersion"); v != "" && !eta.RequiresSignature(v) {
		uc.log.Warn().Str("version", v).Msg("la versión del documento no exige firma")
	}
}

func textField(doc *invoice.Document, name string) string {
	v, ok := doc.Get(name)
	if !ok || v.Kind() != invoice.KindString {
		return ""
	}
	return v.Str()
}
