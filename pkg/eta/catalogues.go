// Package eta contiene catálogos del sistema de factura electrónica de la
// Autoridad Tributaria de Egipto (ETA) usados al firmar y enviar documentos.
package eta

// =============================================================================
// Tipos de firma (signatures[].signatureType)
// =============================================================================

const (
	SignatureTypeIssuer          = "I" // Emisor
	SignatureTypeServiceProvider = "S" // Proveedor de servicio
)

// =============================================================================
// Tipos de documento (documentType)
// =============================================================================

const (
	DocumentTypeInvoice       = "I"  // Factura
	DocumentTypeCreditNote    = "C"  // Nota crédito
	DocumentTypeDebitNote     = "D"  // Nota débito
	DocumentTypeExportInvoice = "EI" // Factura de exportación
	DocumentTypeExportCredit  = "EC" // Nota crédito de exportación
	DocumentTypeExportDebit   = "ED" // Nota débito de exportación
)

// ValidDocumentTypes tipos de documento aceptados por la autoridad (en mayúsculas).
var ValidDocumentTypes = map[string]bool{
	DocumentTypeInvoice:       true,
	DocumentTypeCreditNote:    true,
	DocumentTypeDebitNote:     true,
	DocumentTypeExportInvoice: true,
	DocumentTypeExportCredit:  true,
	DocumentTypeExportDebit:   true,
}

// =============================================================================
// Versiones de documento (documentTypeVersion)
// =============================================================================

const (
	DocumentVersionUnsigned = "0.9" // Sin firma (solo pruebas)
	DocumentVersionSigned   = "1.0" // Requiere firma CAdES-BES
)

// RequiresSignature indica si la versión de documento exige el arreglo signatures.
func RequiresSignature(version string) bool {
	return version != DocumentVersionUnsigned
}
