// Package digest provee el motor de resumen criptográfico usado por la firma.
// Se construye explícitamente y se inyecta; no hay instancia global.
package digest

import (
	"crypto/sha256"
	"encoding/asn1"
)

// OIDSHA256 id-sha256 (2.16.840.1.101.3.4.2.1).
var OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

// Engine calcula resúmenes de tamaño fijo.
type Engine interface {
	Sum(data []byte) []byte
	Size() int
	AlgorithmOID() asn1.ObjectIdentifier
}

type sha256Engine struct{}

// NewSHA256 motor SHA-256 (32 bytes).
func NewSHA256() Engine { return sha256Engine{} }

func (sha256Engine) Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (sha256Engine) Size() int { return sha256.Size }

func (sha256Engine) AlgorithmOID() asn1.ObjectIdentifier {
	out := make(asn1.ObjectIdentifier, len(OIDSHA256))
	copy(out, OIDSHA256)
	return out
}
