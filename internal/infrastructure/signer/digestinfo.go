// Package signer contiene los firmadores externos: token PKCS#11, llave en
// software (PKCS#12) y el proceso auxiliar del sistema operativo.
package signer

import (
	"crypto/sha256"
	"fmt"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/asn1der"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/digest"
)

// DigestInfo envuelve un resumen SHA-256 en la estructura DER de PKCS#1 v1.5.
// CKM_RSA_PKCS firma estos bytes tal cual; el token no calcula ningún hash.
func DigestInfo(sum []byte) ([]byte, error) {
	if len(sum) != sha256.Size {
		return nil, fmt.Errorf("%w: resumen de %d bytes, se esperaban %d", domain.ErrSignerRejected, len(sum), sha256.Size)
	}
	return asn1der.Marshal(asn1der.Sequence(
		asn1der.Sequence(asn1der.OID(digest.OIDSHA256), asn1der.Null()),
		asn1der.OctetString(sum),
	))
}
