// Package cms arma el sobre CMS SignedData (perfil CAdES-BES) que la autoridad
// tributaria exige en signatures[].value, y lo inspecciona para diagnóstico.
package cms

import "encoding/asn1"

// Tipos de contenido (PKCS#7 / RFC 5652).
var (
	OIDData         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDDigestedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 5}
)

// Atributos firmados (PKCS#9 / RFC 5035).
var (
	OIDAttributeContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDAttributeMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDAttributeSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDAttributeSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

// OIDRSAEncryption algoritmo de firma declarado en SignerInfo.
var OIDRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}

// Versiones CMS.
const (
	signedDataVersion   = 3
	signerInfoVersion   = 1
	digestedDataVersion = 0
)
