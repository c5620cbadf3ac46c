package cms

import (
	"encoding/asn1"
	"time"

	"github.com/jhoicas/firmador-eta/internal/infrastructure/asn1der"
)

// Attribute atributo CMS: OID + SET de valores.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1der.Value
}

func (a Attribute) value() asn1der.Value {
	return asn1der.Sequence(asn1der.OID(a.Type), asn1der.Set(a.Values...))
}

// algorithmIdentifier AlgorithmIdentifier con o sin parámetros NULL.
func algorithmIdentifier(oid asn1.ObjectIdentifier, omitNull bool) asn1der.Value {
	if omitNull {
		return asn1der.Sequence(asn1der.OID(oid))
	}
	return asn1der.Sequence(asn1der.OID(oid), asn1der.Null())
}

// signedAttributesInput valores que alimentan los cuatro atributos CAdES-BES.
type signedAttributesInput struct {
	contentType   asn1.ObjectIdentifier
	signingTime   time.Time
	contentDigest []byte
	certDigest    []byte
	digestAlg     asn1.ObjectIdentifier
	omitNull      bool
}

// signedAttributes content-type, signing-time, message-digest y signing-certificate-v2.
//
//	SigningCertificateV2 ::= SEQUENCE { certs SEQUENCE OF ESSCertIDv2 }
//	ESSCertIDv2 ::= SEQUENCE { hashAlgorithm AlgorithmIdentifier, certHash OCTET STRING }
func signedAttributes(in signedAttributesInput) []Attribute {
	essCertID := asn1der.Sequence(
		algorithmIdentifier(in.digestAlg, in.omitNull),
		asn1der.OctetString(in.certDigest),
	)
	signingCertificateV2 := asn1der.Sequence(asn1der.Sequence(essCertID))

	return []Attribute{
		{Type: OIDAttributeContentType, Values: []asn1der.Value{asn1der.OID(in.contentType)}},
		{Type: OIDAttributeSigningTime, Values: []asn1der.Value{asn1der.UTCTime(in.signingTime)}},
		{Type: OIDAttributeMessageDigest, Values: []asn1der.Value{asn1der.OctetString(in.contentDigest)}},
		{Type: OIDAttributeSigningCertificateV2, Values: []asn1der.Value{signingCertificateV2}},
	}
}

// attributeSet SET OF Attribute; Marshal lo deja en orden DER.
func attributeSet(attrs []Attribute) asn1der.Value {
	values := make([]asn1der.Value, len(attrs))
	for i, a := range attrs {
		values[i] = a.value()
	}
	return asn1der.Set(values...)
}
