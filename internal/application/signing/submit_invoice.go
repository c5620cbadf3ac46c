package signing

import (
	"context"
	"fmt"

	"github.com/jhoicas/firmador-eta/internal/application/dto"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/etaapi"
	"github.com/jhoicas/firmador-eta/pkg/eta"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// SubmitInvoiceUseCase firma y envía el documento al portal de la autoridad.
type SubmitInvoiceUseCase struct {
	signer    *SignInvoiceUseCase
	submitter etaapi.DocumentSubmitter
	log       *logger.Logger
}

func NewSubmitInvoiceUseCase(signer *SignInvoiceUseCase, submitter etaapi.DocumentSubmitter, log *logger.Logger) *SubmitInvoiceUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitInvoiceUseCase{signer: signer, submitter: submitter, log: log}
}

// Submit firma y envía. Un documento rechazado por validación no es error:
// viaja en RejectedDocuments para que el llamador lo muestre.
func (uc *SubmitInvoiceUseCase) Submit(ctx context.Context, doc *invoice.Document) (*dto.SubmissionResponse, error) {
	signed, err := uc.signer.Sign(ctx, doc)
	if err != nil {
		return nil, err
	}
	res, err := uc.submitter.Submit(ctx, signed)
	if err != nil {
		return nil, fmt.Errorf("enviar documento: %w", err)
	}

	out := &dto.SubmissionResponse{
		SubmissionID:      res.SubmissionID,
		Signature:         signatureValue(signed),
		AcceptedDocuments: make([]dto.AcceptedDocumentDTO, 0, len(res.AcceptedDocuments)),
		RejectedDocuments: make([]dto.RejectedDocumentDTO, 0, len(res.RejectedDocuments)),
	}
	for _, a := range res.AcceptedDocuments {
		out.AcceptedDocuments = append(out.AcceptedDocuments, dto.AcceptedDocumentDTO{
			UUID: a.UUID, LongID: a.LongID, InternalID: a.InternalID,
		})
	}
	for _, r := range res.RejectedDocuments {
		out.RejectedDocuments = append(out.RejectedDocuments, dto.RejectedDocumentDTO{
			InternalID: r.InternalID,
			Code:       r.Error.Code,
			Message:    r.Error.Message,
			Details:    flattenDetails(r.Error.Details),
		})
	}
	uc.log.Info().
		Str("submission_id", out.SubmissionID).
		Int("accepted", len(out.AcceptedDocuments)).
		Int("rejected", len(out.RejectedDocuments)).
		Msg("documento enviado")
	return out, nil
}

// flattenDetails convierte el árbol de errores en líneas "ruta: mensaje".
func flattenDetails(details []etaapi.Error) []string {
	var out []string
	for _, d := range details {
		path := d.PropertyPath
		if path == "" {
			path = d.Target
		}
		line := d.Message
		if path != "" {
			line = path + ": " + d.Message
		}
		out = append(out, line)
		out = append(out, flattenDetails(d.Details)...)
	}
	return out
}

func signatureValue(doc *invoice.Document) string {
	v, ok := doc.Get(invoice.SignaturesField)
	if !ok || v.Kind() != invoice.KindArray {
		return ""
	}
	for _, it := range v.Items() {
		if it.Kind() != invoice.KindObject {
			continue
		}
		if t, _ := it.Object().Get("signatureType"); t.Str() == eta.SignatureTypeIssuer {
			val, _ := it.Object().Get("value")
			return val.Str()
		}
	}
	return ""
}
