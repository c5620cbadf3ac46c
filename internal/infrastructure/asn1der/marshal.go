package asn1der

import (
	"bytes"
	"fmt"
	"slices"

	"golang.org/x/crypto/cryptobyte"

	"github.com/jhoicas/firmador-eta/internal/domain"
)

// Marshal codifica v en DER (longitudes definidas y mínimas).
func Marshal(v Value) ([]byte, error) {
	var b cryptobyte.Builder
	v.build(&b)
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}
	return der, nil
}

// MustMarshal para valores constantes conocidos en tiempo de compilación.
func MustMarshal(v Value) []byte {
	der, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return der
}

func (v Value) build(b *cryptobyte.Builder) {
	if v.err != nil {
		b.SetError(v.err)
		return
	}
	if v.raw != nil {
		b.AddBytes(v.raw)
		return
	}
	if !v.IsConstructed() {
		b.AddASN1(v.tag, func(c *cryptobyte.Builder) { c.AddBytes(v.content) })
		return
	}
	if !v.sorted {
		b.AddASN1(v.tag, func(c *cryptobyte.Builder) {
			for _, child := range v.children {
				child.build(c)
			}
		})
		return
	}

	encoded := make([][]byte, 0, len(v.children))
	for _, child := range v.children {
		der, err := Marshal(child)
		if err != nil {
			b.SetError(err)
			return
		}
		encoded = append(encoded, der)
	}
	slices.SortFunc(encoded, bytes.Compare)
	b.AddASN1(v.tag, func(c *cryptobyte.Builder) {
		for _, der := range encoded {
			c.AddBytes(der)
		}
	})
}

// ForceOuterTag devuelve una copia de der con el primer octeto reemplazado.
// CMS firma los atributos con el tag SET (0x31) aunque se transmitan como [0].
func ForceOuterTag(der []byte, tag Tag) ([]byte, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: DER vacío", domain.ErrEncoding)
	}
	if tag&0x1f == 0x1f {
		return nil, fmt.Errorf("%w: tag de número alto no soportado: 0x%02x", domain.ErrEncoding, uint8(tag))
	}
	out := bytes.Clone(der)
	out[0] = byte(tag)
	return out, nil
}
