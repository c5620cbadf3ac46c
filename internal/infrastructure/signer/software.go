package signer

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/firmador-eta/internal/domain"
)

// SoftwareSigner firma con una llave RSA en memoria. Sirve para pruebas de
// integración y para contribuyentes con certificado en archivo .p12.
type SoftwareSigner struct {
	key  *rsa.PrivateKey
	cert []byte
}

// NewSoftwareSigner valida que el certificado corresponda a la llave.
func NewSoftwareSigner(key *rsa.PrivateKey, certDER []byte) (*SoftwareSigner, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: llave privada nula", domain.ErrSignerUnavailable)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: certificado: %w", domain.ErrSignerRejected, err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		return nil, fmt.Errorf("%w: el certificado no corresponde a la llave", domain.ErrSignerRejected)
	}
	return &SoftwareSigner{key: key, cert: append([]byte(nil), certDER...)}, nil
}

// LoadP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadP12(path, password string) (*SoftwareSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: leer p12: %w", domain.ErrSignerUnavailable, err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("%w: decodificar p12: %w", domain.ErrSignerRejected, err)
		}
		return nil, fmt.Errorf("%w: decodificar p12: %w", domain.ErrSignerUnavailable, err)
	}
	key, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: la llave del p12 no es RSA (%T)", domain.ErrSignerRejected, priv)
	}
	return NewSoftwareSigner(key, cert.Raw)
}

func (s *SoftwareSigner) Certificate(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.cert...), nil
}

// SignDigest firma RSA PKCS#1 v1.5 sobre un resumen SHA-256 ya calculado.
func (s *SoftwareSigner) SignDigest(ctx context.Context, sum []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := rsa.SignPKCS1v15(nil, s.key, crypto.SHA256, sum)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSignerRejected, err)
	}
	return sig, nil
}
