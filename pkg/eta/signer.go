package eta

import "context"

// ExternalSigner firma resúmenes con una llave que nunca sale del dispositivo.
type ExternalSigner interface {
	// Certificate devuelve el certificado X.509 del firmante en DER.
	Certificate(ctx context.Context) ([]byte, error)
	// SignDigest devuelve la firma RSA PKCS#1 v1.5 cruda sobre un resumen SHA-256 de 32 bytes.
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}
