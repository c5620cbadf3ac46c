package cms_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/cms"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/digest"
)

// testSigningTime hora fija del reloj falso.
var testSigningTime = time.Date(2026, 2, 12, 22, 2, 35, 0, time.UTC)

type identity struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
	der  []byte
}

var testIdentity = sync.OnceValues(func() (*identity, error) {
	return newIdentity(big.NewInt(0x1c170e39), "Firmante de prueba")
})

func newIdentity(serial *big.Int, cn string) (*identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Empresa de Prueba"}, Country: []string{"EG"}},
		NotBefore:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &identity{key: key, cert: cert, der: der}, nil
}

func mustIdentity(t *testing.T) *identity {
	t.Helper()
	id, err := testIdentity()
	require.NoError(t, err, "no se pudo generar la identidad de prueba")
	return id
}

// fakeSigner firmador en memoria que registra los resúmenes recibidos.
type fakeSigner struct {
	id *identity

	certErr error
	signErr error
	certOut []byte // reemplaza el certificado si no es nil
	sigOut  []byte // reemplaza la firma si no es nil
	block   bool   // bloquea hasta que se cancele el contexto

	mu      sync.Mutex
	digests [][]byte
}

func (f *fakeSigner) Certificate(ctx context.Context) ([]byte, error) {
	if f.certErr != nil {
		return nil, f.certErr
	}
	if f.certOut != nil {
		return f.certOut, nil
	}
	return f.id.der, nil
}

func (f *fakeSigner) SignDigest(ctx context.Context, d []byte) ([]byte, error) {
	f.mu.Lock()
	f.digests = append(f.digests, append([]byte(nil), d...))
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.signErr != nil {
		return nil, f.signErr
	}
	if f.sigOut != nil {
		return f.sigOut, nil
	}
	return rsa.SignPKCS1v15(nil, f.id.key, crypto.SHA256, d)
}

func (f *fakeSigner) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.digests...)
}

func newBuilder(t *testing.T, signer *fakeSigner, policy cms.Policy) *cms.Builder {
	t.Helper()
	b, err := cms.NewBuilder(cms.Options{
		Signer:      signer,
		Digest:      digest.NewSHA256(),
		Clock:       clockwork.NewFakeClockAt(testSigningTime),
		Policy:      policy,
		SignTimeout: 2 * time.Second,
	})
	require.NoError(t, err, "NewBuilder no debe fallar con opciones completas")
	return b
}

func authorityPolicy() cms.Policy {
	return cms.Policy{
		Encapsulation:         cms.DetachedDigestedData,
		OmitAlgorithmNull:     true,
		EmptyDigestAlgorithms: true,
	}
}

func mustDocument(t *testing.T, raw string) *invoice.Document {
	t.Helper()
	doc, err := invoice.ParseJSON([]byte(raw))
	require.NoError(t, err)
	return doc
}
