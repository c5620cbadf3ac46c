package asn1der

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"

	"github.com/jhoicas/firmador-eta/internal/domain"
)

// Unmarshal decodifica exactamente un TLV DER. Longitudes indefinidas, no
// mínimas o bytes sobrantes son error.
func Unmarshal(der []byte) (Value, error) {
	s := cryptobyte.String(der)
	v, err := readValue(&s)
	if err != nil {
		return Value{}, err
	}
	if !s.Empty() {
		return Value{}, fmt.Errorf("%w: %d bytes sobrantes después del TLV", domain.ErrEncoding, len(s))
	}
	return v, nil
}

func readValue(s *cryptobyte.String) (Value, error) {
	var elem cryptobyte.String
	var tag Tag
	if !s.ReadAnyASN1Element(&elem, &tag) {
		return Value{}, fmt.Errorf("%w: TLV DER mal formado", domain.ErrEncoding)
	}
	raw := bytes.Clone([]byte(elem))

	var content cryptobyte.String
	inner := cryptobyte.String(raw)
	if !inner.ReadAnyASN1(&content, nil) {
		return Value{}, fmt.Errorf("%w: TLV DER mal formado", domain.ErrEncoding)
	}
	v := Value{tag: tag, raw: raw}
	if tag&classConstructed == 0 {
		v.content = []byte(content)
		return v, nil
	}
	children, err := parseChildren(content)
	if err != nil {
		return Value{}, err
	}
	v.children = children
	return v, nil
}

func parseChildren(content []byte) ([]Value, error) {
	s := cryptobyte.String(content)
	var children []Value
	for !s.Empty() {
		c, err := readValue(&s)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, nil
}

// Bytes codificación DER del valor.
func (v Value) Bytes() ([]byte, error) { return Marshal(v) }

func (v Value) expect(tag Tag) error {
	if v.err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEncoding, v.err)
	}
	if v.tag != tag {
		return fmt.Errorf("%w: se esperaba tag 0x%02x, se encontró 0x%02x", domain.ErrEncoding, uint8(tag), uint8(v.tag))
	}
	return nil
}

// reread reconstruye el TLV universal del contenido para usar los lectores de cryptobyte.
func (v Value) reread(tag Tag) cryptobyte.String {
	var b cryptobyte.Builder
	b.AddASN1(tag, func(c *cryptobyte.Builder) { c.AddBytes(v.content) })
	return cryptobyte.String(b.BytesOrPanic())
}

// OID interpreta el valor como OBJECT IDENTIFIER.
func (v Value) OID() (asn1.ObjectIdentifier, error) {
	if err := v.expect(TagOID); err != nil {
		return nil, err
	}
	s := v.reread(TagOID)
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1ObjectIdentifier(&oid) {
		return nil, fmt.Errorf("%w: OID inválido", domain.ErrEncoding)
	}
	return oid, nil
}

// Integer interpreta el valor como INTEGER.
func (v Value) Integer() (*big.Int, error) {
	if err := v.expect(TagInteger); err != nil {
		return nil, err
	}
	s := v.reread(TagInteger)
	n := new(big.Int)
	if !s.ReadASN1Integer(n) {
		return nil, fmt.Errorf("%w: INTEGER inválido", domain.ErrEncoding)
	}
	return n, nil
}

// OctetBytes contenido de un OCTET STRING.
func (v Value) OctetBytes() ([]byte, error) {
	if err := v.expect(TagOctetString); err != nil {
		return nil, err
	}
	return v.Content(), nil
}

// Time interpreta UTCTime o GeneralizedTime.
func (v Value) Time() (time.Time, error) {
	if v.err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", domain.ErrEncoding, v.err)
	}
	var t time.Time
	switch v.tag {
	case TagUTCTime:
		s := v.reread(TagUTCTime)
		if !s.ReadASN1UTCTime(&t) {
			return time.Time{}, fmt.Errorf("%w: UTCTime inválido", domain.ErrEncoding)
		}
	case TagGeneralizedTime:
		s := v.reread(TagGeneralizedTime)
		if !s.ReadASN1GeneralizedTime(&t) {
			return time.Time{}, fmt.Errorf("%w: GeneralizedTime inválido", domain.ErrEncoding)
		}
	default:
		return time.Time{}, fmt.Errorf("%w: tag 0x%02x no es una fecha", domain.ErrEncoding, uint8(v.tag))
	}
	return t, nil
}

// IsNull indica si el valor es un NULL universal.
func (v Value) IsNull() bool { return v.err == nil && v.tag == TagNull && len(v.content) == 0 }
