package cms_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/asn1der"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/cms"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/digest"
)

const (
	testInvoiceJSON     = `{"documentType":"i","a":{"x":1},"list":[{"y":2}]}`
	testCanonical       = `"DOCUMENTTYPE""I""A""X""1""LIST""LIST""Y""2"`
	testCanonicalDigest = "5b27d2ab759a474b7df8dc0fda8a99997be6cba713e78869a342af61499d0c4f"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ley de enlace del resumen: el atributo message-digest de cualquier sobre
// producido es el SHA-256 de la forma canónica del documento recibido.
// ──────────────────────────────────────────────────────────────────────────────

func TestSign_EnlaceDelResumen(t *testing.T) {
	signer := &fakeSigner{id: mustIdentity(t)}
	b := newBuilder(t, signer, authorityPolicy())

	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err, "Sign no debe fallar con un firmador sano")

	assert.Equal(t, testCanonical, string(env.Canonical))
	assert.Equal(t, testCanonicalDigest, hex.EncodeToString(env.ContentDigest))

	in, err := cms.Inspect(env.DER)
	require.NoError(t, err)
	assert.Equal(t, testCanonicalDigest, hex.EncodeToString(in.MessageDigest))
	assert.True(t, in.MatchesCanonical([]byte(testCanonical)))
	assert.Equal(t, cms.StateDone, env.State)
}

// ──────────────────────────────────────────────────────────────────────────────
// Ley de normalización del tag: lo resumido para la firma es la codificación DER
// del SET de atributos con el primer byte forzado a 0x31, nunca la forma [0].
// ──────────────────────────────────────────────────────────────────────────────

func TestSign_LeyDelTagSET(t *testing.T) {
	id := mustIdentity(t)
	signer := &fakeSigner{id: id}
	b := newBuilder(t, signer, authorityPolicy())

	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err)

	require.Equal(t, byte(0xa0), env.SignedAttrsDER[0], "los atributos van embebidos como [0] IMPLICIT")
	require.Equal(t, byte(0x31), env.ToBeSigned[0], "lo resumido lleva el tag SET")
	assert.Equal(t, env.SignedAttrsDER[1:], env.ToBeSigned[1:], "solo cambia el primer byte")

	expected := sha256.Sum256(env.ToBeSigned)
	received := signer.received()
	require.Len(t, received, 1, "el firmador se invoca una sola vez")
	assert.Equal(t, expected[:], received[0], "el firmador recibe el resumen del SET con tag 0x31")
	assert.NotEqual(t, env.ContentDigest, received[0], "el firmador nunca recibe el resumen del contenido")

	implicit := sha256.Sum256(env.SignedAttrsDER)
	assert.Error(t, rsa.VerifyPKCS1v15(&id.key.PublicKey, crypto.SHA256, implicit[:], env.Signature),
		"la firma no debe verificar sobre la forma [0]")

	in, err := cms.Inspect(env.DER)
	require.NoError(t, err)
	assert.NoError(t, in.VerifySignature())
	assert.Equal(t, env.SignedAttrsDER, in.SignedAttrsDER)
}

func TestSign_RoundTrip(t *testing.T) {
	id := mustIdentity(t)
	b := newBuilder(t, &fakeSigner{id: id}, authorityPolicy())

	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err)

	in, err := cms.InspectBase64(env.Base64())
	require.NoError(t, err)

	assert.True(t, in.ContentType.Equal(cms.OIDSignedData))
	assert.Equal(t, int64(3), in.Version)
	assert.True(t, in.EncapsulatedType.Equal(cms.OIDDigestedData))
	assert.True(t, in.AttrContentType.Equal(cms.OIDDigestedData), "el atributo content-type coincide con eContentType")
	require.Len(t, in.Certificates, 1)
	assert.Equal(t, id.der, in.Certificates[0])
	assert.True(t, in.CertificateMatches(), "signing-certificate-v2 referencia el certificado embebido")

	assert.Equal(t, int64(1), in.SignerVersion)
	assert.Equal(t, id.cert.RawIssuer, in.IssuerDER)
	assert.Equal(t, 0, id.cert.SerialNumber.Cmp(in.SerialNumber))
	assert.True(t, in.DigestAlgorithm.Equal(digest.OIDSHA256))
	assert.True(t, in.SignatureAlgorithm.Equal(cms.OIDRSAEncryption))
	assert.True(t, testSigningTime.Equal(in.SigningTime))
	assert.Equal(t, env.Signature, in.Signature)

	require.Len(t, in.SignedAttributes, 4)
	order := []string{
		cms.OIDAttributeContentType.String(),
		cms.OIDAttributeSigningTime.String(),
		cms.OIDAttributeMessageDigest.String(),
		cms.OIDAttributeSigningCertificateV2.String(),
	}
	for i, attr := range in.SignedAttributes {
		assert.Equal(t, order[i], attr.Type.String())
		assert.Len(t, attr.Values, 1)
	}

	// el DER decodificado se vuelve a codificar idéntico
	decoded, err := asn1der.Unmarshal(env.DER)
	require.NoError(t, err)
	again, err := asn1der.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, env.DER, again)
}

func TestSign_EsDeterministaConRelojFijo(t *testing.T) {
	signer := &fakeSigner{id: mustIdentity(t)}
	b := newBuilder(t, signer, authorityPolicy())

	first, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err)
	second, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err)
	assert.Equal(t, first.DER, second.DER, "PKCS#1 v1.5 es determinista: mismo reloj, mismo sobre")
}

func TestSign_NoModificaElDocumento(t *testing.T) {
	b := newBuilder(t, &fakeSigner{id: mustIdentity(t)}, authorityPolicy())
	doc := mustDocument(t, `{"documentType":"i","x":null}`)

	env, err := b.Sign(context.Background(), doc)
	require.NoError(t, err)

	dt, _ := doc.Get("documentType")
	assert.Equal(t, "i", dt.Str(), "el original conserva su valor")
	assert.Equal(t, 2, doc.Len())
	assert.Equal(t, 1, env.Normalized.Len())
}

func TestSign_VariantesDePolitica(t *testing.T) {
	id := mustIdentity(t)
	tests := []struct {
		name     string
		policy   cms.Policy
		wantType string
		attached bool
	}{
		{"data_adjunto", cms.Policy{Encapsulation: cms.AttachedData}, "1.2.840.113549.1.7.1", true},
		{"data_separado", cms.Policy{Encapsulation: cms.DetachedData}, "1.2.840.113549.1.7.1", false},
		{"digested_adjunto", cms.Policy{Encapsulation: cms.AttachedDigestedData}, "1.2.840.113549.1.7.5", true},
		{"digested_separado", cms.Policy{Encapsulation: cms.DetachedDigestedData}, "1.2.840.113549.1.7.5", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, &fakeSigner{id: id}, tt.policy)
			env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
			require.NoError(t, err)

			in, err := cms.Inspect(env.DER)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, in.EncapsulatedType.String())
			assert.Equal(t, tt.wantType, in.AttrContentType.String())
			assert.Equal(t, tt.attached, in.Attached())
			assert.NoError(t, in.VerifySignature())

			// sin OmitAlgorithmNull los AlgorithmIdentifier llevan NULL
			assert.True(t, in.AlgorithmHasNull)
			require.Len(t, in.DigestAlgorithms, 1)
		})
	}
}

func TestSign_DataAdjuntoLlevaLaFormaCanonica(t *testing.T) {
	b := newBuilder(t, &fakeSigner{id: mustIdentity(t)}, cms.Policy{Encapsulation: cms.AttachedData})
	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err)

	in, err := cms.Inspect(env.DER)
	require.NoError(t, err)
	assert.Equal(t, testCanonical, string(in.Content))
}

func TestSign_DigestedDataAdjunto(t *testing.T) {
	b := newBuilder(t, &fakeSigner{id: mustIdentity(t)}, cms.Policy{Encapsulation: cms.AttachedDigestedData, OmitAlgorithmNull: true})
	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err)

	in, err := cms.Inspect(env.DER)
	require.NoError(t, err)

	// DigestedData ::= SEQUENCE { version, digestAlgorithm, encapContentInfo, digest }
	dd, err := asn1der.Unmarshal(in.Content)
	require.NoError(t, err)
	require.Equal(t, 4, dd.Len())
	version, err := dd.Child(0).Integer()
	require.NoError(t, err)
	assert.Equal(t, int64(0), version.Int64())

	inner := dd.Child(2)
	innerType, err := inner.Child(0).OID()
	require.NoError(t, err)
	assert.True(t, innerType.Equal(cms.OIDData))
	content, err := inner.Child(1).Child(0).OctetBytes()
	require.NoError(t, err)
	assert.Equal(t, testCanonical, string(content))

	sum, err := dd.Child(3).OctetBytes()
	require.NoError(t, err)
	assert.Equal(t, testCanonicalDigest, hex.EncodeToString(sum))
}

func TestSign_PoliticaDeLaAutoridad(t *testing.T) {
	b := newBuilder(t, &fakeSigner{id: mustIdentity(t)}, authorityPolicy())
	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	require.NoError(t, err)

	in, err := cms.Inspect(env.DER)
	require.NoError(t, err)
	assert.Empty(t, in.DigestAlgorithms, "digestAlgorithms vacío")
	assert.False(t, in.AlgorithmHasNull)
	assert.False(t, in.Attached())

	// SignedData empieza con version 3 y SET vacío: 02 01 03 31 00
	assert.True(t, bytes.Contains(env.DER, []byte{0x02, 0x01, 0x03, 0x31, 0x00}))
}

// ──────────────────────────────────────────────────────────────────────────────
// Modos de falla: cada uno termina en *StageError con la etapa alcanzada y
// nunca devuelve un sobre.
// ──────────────────────────────────────────────────────────────────────────────

func TestSign_Fallas(t *testing.T) {
	id := mustIdentity(t)
	other, err := newIdentity(big.NewInt(99), "Otro firmante")
	require.NoError(t, err)
	foreignSig, err := rsa.SignPKCS1v15(nil, other.key, crypto.SHA256, make([]byte, 32))
	require.NoError(t, err)

	tests := []struct {
		name      string
		signer    *fakeSigner
		doc       string
		wantKind  error
		wantStage cms.State
	}{
		{"arreglo_anidado", &fakeSigner{id: id}, `{"m":[["x"]]}`, domain.ErrCanonicalization, cms.StateStart},
		{"certificado_no_disponible", &fakeSigner{id: id, certErr: domain.ErrSignerUnavailable}, testInvoiceJSON, domain.ErrSignerUnavailable, cms.StateDigested},
		{"error_desconocido_del_firmador", &fakeSigner{id: id, certErr: errors.New("boom")}, testInvoiceJSON, domain.ErrSignerUnavailable, cms.StateDigested},
		{"certificado_vacio", &fakeSigner{id: id, certOut: []byte{}}, testInvoiceJSON, domain.ErrSignerRejected, cms.StateDigested},
		{"certificado_corrupto", &fakeSigner{id: id, certOut: []byte{0x30, 0x03, 0x02, 0x01, 0x01}}, testInvoiceJSON, domain.ErrSignerRejected, cms.StateDigested},
		{"pin_incorrecto", &fakeSigner{id: id, signErr: domain.ErrSignerRejected}, testInvoiceJSON, domain.ErrSignerRejected, cms.StateAttributesBuilt},
		{"firma_vacia", &fakeSigner{id: id, sigOut: []byte{}}, testInvoiceJSON, domain.ErrSignerRejected, cms.StateAttributesBuilt},
		{"firma_de_otra_llave", &fakeSigner{id: id, sigOut: foreignSig}, testInvoiceJSON, domain.ErrSignerRejected, cms.StateAttributesBuilt},
		{"firmador_ocupado", &fakeSigner{id: id, signErr: domain.ErrSignerBusy}, testInvoiceJSON, domain.ErrSignerBusy, cms.StateAttributesBuilt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, tt.signer, authorityPolicy())
			env, err := b.Sign(context.Background(), mustDocument(t, tt.doc))
			require.Error(t, err)
			assert.Nil(t, env, "nunca se devuelve un sobre parcial")
			assert.ErrorIs(t, err, tt.wantKind)

			var se *cms.StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantStage, se.Stage)
			assert.Contains(t, se.Error(), tt.wantStage.String())
		})
	}
}

func TestSign_DocumentoNil(t *testing.T) {
	b := newBuilder(t, &fakeSigner{id: mustIdentity(t)}, authorityPolicy())
	_, err := b.Sign(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrCanonicalization)
}

func TestSign_CertificadoNoRSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "ec"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	b := newBuilder(t, &fakeSigner{id: mustIdentity(t), certOut: der}, authorityPolicy())
	_, err = b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	assert.ErrorIs(t, err, domain.ErrSignerRejected)
}

func TestSign_HoraFueraDeRangoUTCTime(t *testing.T) {
	b, err := cms.NewBuilder(cms.Options{
		Signer: &fakeSigner{id: mustIdentity(t)},
		Digest: digest.NewSHA256(),
		Clock:  clockwork.NewFakeClockAt(time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)),
		Policy: authorityPolicy(),
	})
	require.NoError(t, err)

	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	assert.Nil(t, env)
	assert.ErrorIs(t, err, domain.ErrEncoding)
	var se *cms.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, cms.StateDigested, se.Stage)
}

func TestSign_TiempoDeEsperaDelFirmador(t *testing.T) {
	defer goleak.VerifyNone(t)

	b, err := cms.NewBuilder(cms.Options{
		Signer:      &fakeSigner{id: mustIdentity(t), block: true},
		Digest:      digest.NewSHA256(),
		Clock:       clockwork.NewFakeClockAt(testSigningTime),
		Policy:      authorityPolicy(),
		SignTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	env, err := b.Sign(context.Background(), mustDocument(t, testInvoiceJSON))
	assert.Nil(t, env)
	assert.ErrorIs(t, err, domain.ErrSignerTimeout, "el vencimiento es un motivo distinto")
	assert.NotErrorIs(t, err, domain.ErrSignerUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second, "no se queda colgado")
}

func TestSign_ContextoCancelado(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newBuilder(t, &fakeSigner{id: mustIdentity(t), block: true}, authorityPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := b.Sign(ctx, mustDocument(t, testInvoiceJSON))
	assert.ErrorIs(t, err, domain.ErrSignerUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBuilder_Validaciones(t *testing.T) {
	signer := &fakeSigner{id: mustIdentity(t)}

	_, err := cms.NewBuilder(cms.Options{Digest: digest.NewSHA256(), Policy: authorityPolicy()})
	assert.Error(t, err, "sin firmador")

	_, err = cms.NewBuilder(cms.Options{Signer: signer, Policy: authorityPolicy()})
	assert.Error(t, err, "sin motor de resumen")

	_, err = cms.NewBuilder(cms.Options{Signer: signer, Digest: digest.NewSHA256()})
	assert.Error(t, err, "la encapsulación no tiene valor por defecto")
}

func TestEnvelope_Base64(t *testing.T) {
	env := &cms.Envelope{DER: []byte{0x30, 0x00}}
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x30, 0x00}), env.Base64())
}
