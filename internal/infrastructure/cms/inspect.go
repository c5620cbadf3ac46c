package cms

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/asn1der"
)

// Resultados de verificación distintos de "firma válida".
var (
	ErrSignatureInvalid = errors.New("cms: la firma no verifica contra el certificado")
	// ErrImplicitTagSignature la firma solo verifica sobre los atributos con tag [0],
	// no sobre su codificación como SET.
	ErrImplicitTagSignature = errors.New("cms: la firma cubre los atributos con tag [0] en lugar de SET (0x31)")
)

// InspectedAttribute atributo firmado decodificado.
type InspectedAttribute struct {
	Type   asn1.ObjectIdentifier
	Values [][]byte // DER de cada valor
}

// Inspection vista decodificada de un ContentInfo/SignedData con un firmante.
type Inspection struct {
	ContentType        asn1.ObjectIdentifier
	Version            int64
	DigestAlgorithms   []asn1.ObjectIdentifier
	EncapsulatedType   asn1.ObjectIdentifier
	Content            []byte // eContent; nil si es separado
	Certificates       [][]byte
	SignerVersion      int64
	IssuerDER          []byte
	SerialNumber       *big.Int
	DigestAlgorithm    asn1.ObjectIdentifier
	AlgorithmHasNull   bool
	SignedAttrsDER     []byte
	SignedAttributes   []InspectedAttribute
	SignatureAlgorithm asn1.ObjectIdentifier
	Signature          []byte

	// Valores de los atributos CAdES-BES, si están presentes.
	AttrContentType asn1.ObjectIdentifier
	MessageDigest   []byte
	SigningTime     time.Time
	CertHash        []byte
}

// Attached indica si el sobre trae el contenido.
func (in *Inspection) Attached() bool { return in.Content != nil }

// InspectBase64 decodifica base64 estándar (se ignoran espacios y saltos de línea).
func InspectBase64(s string) (*Inspection, error) {
	clean := strings.Join(strings.Fields(s), "")
	der, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 inválido: %v", domain.ErrEncoding, err)
	}
	return Inspect(der)
}

// Inspect decodifica un ContentInfo con SignedData.
func Inspect(der []byte) (*Inspection, error) {
	root, err := asn1der.Unmarshal(der)
	if err != nil {
		return nil, err
	}
	if err := expectSequence(root, 2, "ContentInfo"); err != nil {
		return nil, err
	}
	in := &Inspection{}
	if in.ContentType, err = root.Child(0).OID(); err != nil {
		return nil, err
	}
	if !in.ContentType.Equal(OIDSignedData) {
		return nil, encodingErr("ContentInfo no contiene SignedData (%s)", in.ContentType)
	}
	explicit := root.Child(1)
	if explicit.Tag() != asn1der.ContextTag(0, true) || explicit.Len() != 1 {
		return nil, encodingErr("contenido de ContentInfo sin [0] EXPLICIT")
	}
	sd := explicit.Child(0)
	if err := expectSequence(sd, 4, "SignedData"); err != nil {
		return nil, err
	}

	version, err := sd.Child(0).Integer()
	if err != nil {
		return nil, err
	}
	in.Version = version.Int64()

	algs := sd.Child(1)
	if algs.Tag() != asn1der.TagSet {
		return nil, encodingErr("digestAlgorithms no es un SET")
	}
	for _, alg := range algs.Children() {
		oid, _, err := parseAlgorithm(alg)
		if err != nil {
			return nil, err
		}
		in.DigestAlgorithms = append(in.DigestAlgorithms, oid)
	}

	if err := in.parseEncapsulated(sd.Child(2)); err != nil {
		return nil, err
	}

	idx := 3
	for ; idx < sd.Len()-1; idx++ {
		c := sd.Child(idx)
		switch c.Tag() {
		case asn1der.ContextTag(0, true):
			for _, cert := range c.Children() {
				raw, err := cert.Bytes()
				if err != nil {
					return nil, err
				}
				in.Certificates = append(in.Certificates, raw)
			}
		case asn1der.ContextTag(1, true):
			// CRLs: no se usan
		default:
			return nil, encodingErr("campo inesperado en SignedData (tag 0x%02x)", uint8(c.Tag()))
		}
	}

	signerInfos := sd.Child(sd.Len() - 1)
	if signerInfos.Tag() != asn1der.TagSet {
		return nil, encodingErr("signerInfos no es un SET")
	}
	if signerInfos.Len() != 1 {
		return nil, encodingErr("se esperaba un firmante, hay %d", signerInfos.Len())
	}
	if err := in.parseSignerInfo(signerInfos.Child(0)); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *Inspection) parseEncapsulated(v asn1der.Value) error {
	if v.Tag() != asn1der.TagSequence || v.Len() < 1 || v.Len() > 2 {
		return encodingErr("encapContentInfo mal formado")
	}
	oid, err := v.Child(0).OID()
	if err != nil {
		return err
	}
	in.EncapsulatedType = oid
	if v.Len() == 2 {
		wrapper := v.Child(1)
		if wrapper.Tag() != asn1der.ContextTag(0, true) || wrapper.Len() != 1 {
			return encodingErr("eContent sin [0] EXPLICIT")
		}
		content, err := wrapper.Child(0).OctetBytes()
		if err != nil {
			return err
		}
		in.Content = content
	}
	return nil
}

func (in *Inspection) parseSignerInfo(si asn1der.Value) error {
	if err := expectSequence(si, 5, "SignerInfo"); err != nil {
		return err
	}
	version, err := si.Child(0).Integer()
	if err != nil {
		return err
	}
	in.SignerVersion = version.Int64()

	sid := si.Child(1)
	if sid.Tag() != asn1der.TagSequence || sid.Len() != 2 {
		return encodingErr("solo se soporta issuerAndSerialNumber como identificador del firmante")
	}
	if in.IssuerDER, err = sid.Child(0).Bytes(); err != nil {
		return err
	}
	if in.SerialNumber, err = sid.Child(1).Integer(); err != nil {
		return err
	}

	if in.DigestAlgorithm, in.AlgorithmHasNull, err = parseAlgorithm(si.Child(2)); err != nil {
		return err
	}

	idx := 3
	if attrs := si.Child(idx); attrs.Tag() == asn1der.ContextTag(0, true) {
		if in.SignedAttrsDER, err = attrs.Bytes(); err != nil {
			return err
		}
		if err := in.parseAttributes(attrs); err != nil {
			return err
		}
		idx++
	}
	if in.SignatureAlgorithm, _, err = parseAlgorithm(si.Child(idx)); err != nil {
		return err
	}
	if in.Signature, err = si.Child(idx + 1).OctetBytes(); err != nil {
		return err
	}
	return nil
}

func (in *Inspection) parseAttributes(set asn1der.Value) error {
	for _, attr := range set.Children() {
		if err := expectSequence(attr, 2, "Attribute"); err != nil {
			return err
		}
		oid, err := attr.Child(0).OID()
		if err != nil {
			return err
		}
		values := attr.Child(1)
		if values.Tag() != asn1der.TagSet || values.Len() == 0 {
			return encodingErr("atributo %s sin valores", oid)
		}
		ia := InspectedAttribute{Type: oid}
		for _, v := range values.Children() {
			raw, err := v.Bytes()
			if err != nil {
				return err
			}
			ia.Values = append(ia.Values, raw)
		}
		in.SignedAttributes = append(in.SignedAttributes, ia)

		first := values.Child(0)
		switch {
		case oid.Equal(OIDAttributeContentType):
			if in.AttrContentType, err = first.OID(); err != nil {
				return err
			}
		case oid.Equal(OIDAttributeMessageDigest):
			if in.MessageDigest, err = first.OctetBytes(); err != nil {
				return err
			}
		case oid.Equal(OIDAttributeSigningTime):
			if in.SigningTime, err = first.Time(); err != nil {
				return err
			}
		case oid.Equal(OIDAttributeSigningCertificateV2):
			if in.CertHash, err = parseSigningCertificateV2(first); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseSigningCertificateV2 certHash del primer ESSCertIDv2. hashAlgorithm es
// opcional (DEFAULT sha256), por lo que el OCTET STRING puede ir primero.
func parseSigningCertificateV2(v asn1der.Value) ([]byte, error) {
	if v.Tag() != asn1der.TagSequence || v.Len() < 1 {
		return nil, encodingErr("SigningCertificateV2 mal formado")
	}
	certs := v.Child(0)
	if certs.Tag() != asn1der.TagSequence || certs.Len() < 1 {
		return nil, encodingErr("SigningCertificateV2 sin certificados")
	}
	essCertID := certs.Child(0)
	if essCertID.Tag() != asn1der.TagSequence || essCertID.Len() < 1 {
		return nil, encodingErr("ESSCertIDv2 mal formado")
	}
	first := essCertID.Child(0)
	if first.Tag() == asn1der.TagSequence {
		return essCertID.Child(1).OctetBytes()
	}
	return first.OctetBytes()
}

// parseAlgorithm OID de un AlgorithmIdentifier e indicador de parámetros NULL.
func parseAlgorithm(v asn1der.Value) (asn1.ObjectIdentifier, bool, error) {
	if v.Tag() != asn1der.TagSequence || v.Len() < 1 || v.Len() > 2 {
		return nil, false, encodingErr("AlgorithmIdentifier mal formado")
	}
	oid, err := v.Child(0).OID()
	if err != nil {
		return nil, false, err
	}
	return oid, v.Len() == 2 && v.Child(1).IsNull(), nil
}

func expectSequence(v asn1der.Value, minChildren int, name string) error {
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrEncoding, name, err)
	}
	if v.Tag() != asn1der.TagSequence {
		return encodingErr("%s no es un SEQUENCE (tag 0x%02x)", name, uint8(v.Tag()))
	}
	if v.Len() < minChildren {
		return encodingErr("%s incompleto: %d elementos", name, v.Len())
	}
	return nil
}

func encodingErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrEncoding}, args...)...)
}

// Certificate primer certificado embebido.
func (in *Inspection) Certificate() (*x509.Certificate, error) {
	if len(in.Certificates) == 0 {
		return nil, encodingErr("el sobre no incluye certificados")
	}
	return x509.ParseCertificate(in.Certificates[0])
}

// VerifySignature resume los atributos firmados con tag SET (0x31) y verifica
// RSA PKCS#1 v1.5 contra el certificado embebido. Si la firma solo verifica con
// el tag [0] original devuelve ErrImplicitTagSignature.
func (in *Inspection) VerifySignature() error {
	if len(in.SignedAttrsDER) == 0 {
		return encodingErr("el firmante no tiene atributos firmados")
	}
	cert, err := in.Certificate()
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: llave %s no soportada", ErrSignatureInvalid, cert.PublicKeyAlgorithm)
	}
	asSet, err := asn1der.ForceOuterTag(in.SignedAttrsDER, asn1der.TagSet)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(asSet)
	if rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], in.Signature) == nil {
		return nil
	}
	implicit := sha256.Sum256(in.SignedAttrsDER)
	if rsa.VerifyPKCS1v15(pub, crypto.SHA256, implicit[:], in.Signature) == nil {
		return ErrImplicitTagSignature
	}
	return ErrSignatureInvalid
}

// CertificateMatches compara el certHash de signing-certificate-v2 con el certificado embebido.
func (in *Inspection) CertificateMatches() bool {
	if len(in.Certificates) == 0 || in.CertHash == nil {
		return false
	}
	sum := sha256.Sum256(in.Certificates[0])
	return bytes.Equal(sum[:], in.CertHash)
}

// MatchesCanonical compara message-digest con el SHA-256 de la forma canónica.
func (in *Inspection) MatchesCanonical(canonical []byte) bool {
	sum := sha256.Sum256(canonical)
	return in.MessageDigest != nil && bytes.Equal(sum[:], in.MessageDigest)
}
