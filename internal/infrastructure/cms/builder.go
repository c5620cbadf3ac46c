package cms

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/asn1der"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/digest"
	"github.com/jhoicas/firmador-eta/pkg/eta"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// State etapa del protocolo de firma.
type State uint8

const (
	StateStart State = iota
	StateCanonicalized
	StateDigested
	StateAttributesBuilt
	StateAttributesSigned
	StateEnvelopeBuilt
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateCanonicalized:
		return "canonicalized"
	case StateDigested:
		return "digested"
	case StateAttributesBuilt:
		return "attributes_built"
	case StateAttributesSigned:
		return "attributes_signed"
	case StateEnvelopeBuilt:
		return "envelope_built"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// StageError estado Failed: etapa alcanzada, tipo de error (centinela de domain) y causa.
type StageError struct {
	Stage State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("cms [%s]: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("cms [%s]: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap permite errors.Is contra el tipo y contra la causa.
func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Options dependencias del Builder. Signer, Digest y Policy son obligatorios.
type Options struct {
	Signer eta.ExternalSigner
	Digest digest.Engine
	Clock  clockwork.Clock // hora de firma; por defecto reloj real
	Policy Policy
	// SignTimeout límite para cada llamada al firmador; cero = solo el contexto del llamador.
	SignTimeout time.Duration
	Logger      *logger.Logger
}

// Builder produce sobres CAdES-BES. No guarda estado entre firmas.
type Builder struct {
	opts Options
}

// NewBuilder valida las opciones y completa los valores por defecto.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.Signer == nil {
		return nil, errors.New("cms: Signer es obligatorio")
	}
	if opts.Digest == nil {
		return nil, errors.New("cms: Digest es obligatorio")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Builder{opts: opts}, nil
}

// Policy política con la que firma este builder.
func (b *Builder) Policy() Policy { return b.opts.Policy }

// Envelope resultado de una firma exitosa.
type Envelope struct {
	DER              []byte // ContentInfo completo
	Canonical        []byte
	ContentDigest    []byte // valor del atributo message-digest
	SignedAttrsDER   []byte // atributos tal como van en SignerInfo ([0] IMPLICIT)
	ToBeSigned       []byte // mismos atributos con tag SET (0x31): lo que se resume
	ToBeSignedDigest []byte // lo único que recibe el firmador
	Certificate      []byte
	Signature        []byte
	SigningTime      time.Time
	Normalized       *invoice.Document
	State            State
}

// Base64 codificación estándar del DER, valor de signatures[].value.
func (e *Envelope) Base64() string {
	return base64.StdEncoding.EncodeToString(e.DER)
}

// run estado local de una operación de firma.
type run struct {
	b     *Builder
	id    string
	state State
}

func (r *run) advance(to State) {
	r.state = to
	r.b.opts.Logger.Debug().
		Str("op_id", r.id).
		Str("stage", to.String()).
		Str("content_type", r.b.opts.Policy.Encapsulation.ContentType()).
		Bool("attached", r.b.opts.Policy.Encapsulation.Attached()).
		Msg("cms: transición")
}

func (r *run) fail(kind, err error) error {
	se := &StageError{Stage: r.state, Kind: kind, Err: err}
	r.b.opts.Logger.Warn().
		Str("op_id", r.id).
		Str("stage", r.state.String()).
		Err(err).
		Msg("cms: firma abortada")
	r.state = StateFailed
	return se
}

// Sign ejecuta Start → Canonicalized → Digested → AttributesBuilt →
// AttributesSigned → EnvelopeBuilt → Done. Ante cualquier falla devuelve
// *StageError y nunca un sobre parcial. No reintenta.
func (b *Builder) Sign(ctx context.Context, doc *invoice.Document) (*Envelope, error) {
	r := &run{b: b, id: uuid.NewString(), state: StateStart}
	enc := b.opts.Policy.Encapsulation
	digestOID := b.opts.Digest.AlgorithmOID()
	omitNull := b.opts.Policy.OmitAlgorithmNull

	// 1. normalizar y canonicalizar
	if doc == nil {
		return nil, r.fail(domain.ErrCanonicalization, errors.New("documento nil"))
	}
	normalized := invoice.Normalize(doc)
	canonical, err := invoice.Canonicalize(normalized)
	if err != nil {
		return nil, r.fail(domain.ErrCanonicalization, err)
	}
	r.advance(StateCanonicalized)

	// 2. resumen del contenido
	contentDigest := b.opts.Digest.Sum(canonical)
	r.advance(StateDigested)

	// 3. certificado del firmante
	certDER, err := b.callSigner(ctx, b.opts.Signer.Certificate)
	if err != nil {
		return nil, r.fail(signerKind(err), err)
	}
	if len(certDER) == 0 {
		return nil, r.fail(domain.ErrSignerRejected, errors.New("el firmador devolvió un certificado vacío"))
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, r.fail(domain.ErrSignerRejected, fmt.Errorf("certificado inválido: %w", err))
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, r.fail(domain.ErrSignerRejected, fmt.Errorf("el certificado no tiene llave RSA (%s)", cert.PublicKeyAlgorithm))
	}
	certDigest := b.opts.Digest.Sum(certDER)

	// 4. atributos firmados; se resume la codificación con tag SET
	signingTime := b.opts.Clock.Now().UTC().Truncate(time.Second)
	attrs := signedAttributes(signedAttributesInput{
		contentType:   enc.ContentTypeOID(),
		signingTime:   signingTime,
		contentDigest: contentDigest,
		certDigest:    certDigest,
		digestAlg:     digestOID,
		omitNull:      omitNull,
	})
	signedAttrsDER, err := asn1der.Marshal(asn1der.Implicit(0, attributeSet(attrs)))
	if err != nil {
		return nil, r.fail(domain.ErrEncoding, err)
	}
	toBeSigned, err := asn1der.ForceOuterTag(signedAttrsDER, asn1der.TagSet)
	if err != nil {
		return nil, r.fail(domain.ErrEncoding, err)
	}
	tbsDigest := b.opts.Digest.Sum(toBeSigned)
	r.advance(StateAttributesBuilt)

	// 5. firma externa sobre el resumen de los atributos
	signature, err := b.callSigner(ctx, func(ctx context.Context) ([]byte, error) {
		return b.opts.Signer.SignDigest(ctx, tbsDigest)
	})
	if err != nil {
		return nil, r.fail(signerKind(err), err)
	}
	if len(signature) == 0 {
		return nil, r.fail(domain.ErrSignerRejected, errors.New("el firmador devolvió una firma vacía"))
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, tbsDigest, signature); err != nil {
		return nil, r.fail(domain.ErrSignerRejected, fmt.Errorf("la firma no corresponde al certificado: %w", err))
	}
	r.advance(StateAttributesSigned)

	// 6. SignerInfo + SignedData + ContentInfo
	encap, err := encapsulatedContentInfo(enc, canonical, contentDigest, digestOID, omitNull)
	if err != nil {
		return nil, r.fail(domain.ErrEncoding, err)
	}
	signerInfo := asn1der.Sequence(
		asn1der.Integer(signerInfoVersion),
		asn1der.Sequence(asn1der.Raw(cert.RawIssuer), asn1der.BigInteger(cert.SerialNumber)),
		algorithmIdentifier(digestOID, omitNull),
		asn1der.Raw(signedAttrsDER),
		algorithmIdentifier(OIDRSAEncryption, omitNull),
		asn1der.OctetString(signature),
	)
	digestAlgorithms := asn1der.Set(algorithmIdentifier(digestOID, omitNull))
	if b.opts.Policy.EmptyDigestAlgorithms {
		digestAlgorithms = asn1der.Set()
	}
	signedData := asn1der.Sequence(
		asn1der.Integer(signedDataVersion),
		digestAlgorithms,
		encap,
		asn1der.Implicit(0, asn1der.Set(asn1der.Raw(certDER))),
		asn1der.Set(signerInfo),
	)
	der, err := asn1der.Marshal(asn1der.Sequence(
		asn1der.OID(OIDSignedData),
		asn1der.Explicit(0, signedData),
	))
	if err != nil {
		return nil, r.fail(domain.ErrEncoding, err)
	}
	r.advance(StateEnvelopeBuilt)

	env := &Envelope{
		DER:              der,
		Canonical:        canonical,
		ContentDigest:    contentDigest,
		SignedAttrsDER:   signedAttrsDER,
		ToBeSigned:       toBeSigned,
		ToBeSignedDigest: tbsDigest,
		Certificate:      certDER,
		Signature:        signature,
		SigningTime:      signingTime,
		Normalized:       normalized,
	}
	r.advance(StateDone)
	env.State = r.state

	b.opts.Logger.Info().
		Str("op_id", r.id).
		Str("encapsulation", enc.String()).
		Int("envelope_bytes", len(der)).
		Msg("cms: documento firmado")
	return env, nil
}

// encapsulatedContentInfo eContentType y, si es adjunto, eContent.
// Para digested-data adjunto eContent es DigestedData{0, alg, {data, canónico}, resumen}.
func encapsulatedContentInfo(enc Encapsulation, canonical, contentDigest []byte, digestOID asn1.ObjectIdentifier, omitNull bool) (asn1der.Value, error) {
	oid := asn1der.OID(enc.ContentTypeOID())
	switch enc {
	case DetachedData, DetachedDigestedData:
		return asn1der.Sequence(oid), nil
	case AttachedData:
		return asn1der.Sequence(oid, asn1der.Explicit(0, asn1der.OctetString(canonical))), nil
	case AttachedDigestedData:
		digested, err := asn1der.Marshal(asn1der.Sequence(
			asn1der.Integer(digestedDataVersion),
			algorithmIdentifier(digestOID, omitNull),
			asn1der.Sequence(asn1der.OID(OIDData), asn1der.Explicit(0, asn1der.OctetString(canonical))),
			asn1der.OctetString(contentDigest),
		))
		if err != nil {
			return asn1der.Value{}, err
		}
		return asn1der.Sequence(oid, asn1der.Explicit(0, asn1der.OctetString(digested))), nil
	default:
		return asn1der.Value{}, fmt.Errorf("encapsulación %s no soportada", enc)
	}
}

// callSigner hace una llamada al firmador en otra goroutine con SignTimeout.
// Si vence el plazo se devuelve ErrSignerTimeout sin esperar al firmador.
func (b *Builder) callSigner(ctx context.Context, call func(context.Context) ([]byte, error)) ([]byte, error) {
	if b.opts.SignTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.SignTimeout)
		defer cancel()
	}
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := call(ctx)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return nil, b.contextErr(ctx)
		}
		return res.out, res.err
	case <-ctx.Done():
		return nil, b.contextErr(ctx)
	}
}

func (b *Builder) contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: sin respuesta en %s", domain.ErrSignerTimeout, b.opts.SignTimeout)
	}
	return fmt.Errorf("%w: %w", domain.ErrSignerUnavailable, ctx.Err())
}

// signerKind clasifica un error del firmador; lo desconocido cuenta como no disponible.
func signerKind(err error) error {
	for _, kind := range []error{
		domain.ErrSignerTimeout,
		domain.ErrSignerBusy,
		domain.ErrSignerRejected,
		domain.ErrSignerUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return domain.ErrSignerUnavailable
}
