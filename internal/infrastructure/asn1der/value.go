// Package asn1der construye y decodifica estructuras ASN.1 en DER.
//
// Un Value es un árbol inmutable: los constructores nunca fallan en el momento,
// el error queda diferido y Marshal lo reporta envuelto en domain.ErrEncoding.
// Los valores decodificados conservan su TLV original, de modo que volver a
// codificarlos produce exactamente los mismos bytes.
package asn1der

import (
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Tag octeto identificador (número de tag + clase). Solo forma corta (< 31).
type Tag = cbasn1.Tag

// Tags universales usados por CMS.
const (
	TagInteger         = cbasn1.INTEGER
	TagOctetString     = cbasn1.OCTET_STRING
	TagNull            = cbasn1.NULL
	TagOID             = cbasn1.OBJECT_IDENTIFIER
	TagUTF8String      = cbasn1.UTF8String
	TagSequence        = cbasn1.SEQUENCE
	TagSet             = cbasn1.SET
	TagUTCTime         = cbasn1.UTCTime
	TagGeneralizedTime = cbasn1.GeneralizedTime
)

const (
	classConstructed     = 0x20
	classContextSpecific = 0x80
	maxLowTag            = 30
)

// ContextTag [n] específico de contexto; constructed marca el bit 0x20.
func ContextTag(n int, constructed bool) Tag {
	t := Tag(n).ContextSpecific()
	if constructed {
		t = t.Constructed()
	}
	return t
}

// Value nodo del árbol ASN.1.
type Value struct {
	tag      Tag
	content  []byte  // contenido de un primitivo
	children []Value // hijos de un constructed
	sorted   bool    // SET OF: hijos ordenados por su codificación
	raw      []byte  // TLV original (decodificado o Raw)
	err      error
}

// IsConstructed indica si el valor contiene hijos.
func (v Value) IsConstructed() bool { return v.tag&classConstructed != 0 }

// Tag octeto identificador.
func (v Value) Tag() Tag { return v.tag }

// Err error diferido de construcción, si existe.
func (v Value) Err() error { return v.err }

// Len número de hijos.
func (v Value) Len() int { return len(v.children) }

// Children copia de los hijos.
func (v Value) Children() []Value { return append([]Value(nil), v.children...) }

// Child hijo i-ésimo; fuera de rango devuelve un Value con error.
func (v Value) Child(i int) Value {
	if i < 0 || i >= len(v.children) {
		return errValue(fmt.Errorf("hijo %d fuera de rango (%d hijos)", i, len(v.children)))
	}
	return v.children[i]
}

// Content bytes de contenido (sin cabecera) de un primitivo.
func (v Value) Content() []byte { return append([]byte(nil), v.content...) }

func errValue(err error) Value { return Value{err: err} }

func constructed(tag Tag, children []Value) Value {
	v := Value{tag: tag, children: append([]Value(nil), children...)}
	for _, c := range children {
		if c.err != nil {
			v.err = c.err
			break
		}
	}
	return v
}

// primitive construye el TLV con cryptobyte y se queda con tag + contenido.
func primitive(add func(b *cryptobyte.Builder)) Value {
	var b cryptobyte.Builder
	add(&b)
	der, err := b.Bytes()
	if err != nil {
		return errValue(err)
	}
	s := cryptobyte.String(der)
	var content cryptobyte.String
	var tag Tag
	if !s.ReadAnyASN1(&content, &tag) || !s.Empty() {
		return errValue(fmt.Errorf("TLV inválido generado"))
	}
	return Value{tag: tag, content: []byte(content)}
}

// Sequence SEQUENCE con los hijos en el orden dado.
func Sequence(children ...Value) Value { return constructed(TagSequence, children) }

// Set SET OF: al codificar, los hijos se ordenan por sus bytes DER.
func Set(children ...Value) Value {
	v := constructed(TagSet, children)
	v.sorted = true
	return v
}

// OctetString OCTET STRING.
func OctetString(b []byte) Value {
	return primitive(func(bb *cryptobyte.Builder) { bb.AddASN1OctetString(b) })
}

// UTF8String UTF8String.
func UTF8String(s string) Value {
	return primitive(func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.UTF8String, func(c *cryptobyte.Builder) { c.AddBytes([]byte(s)) })
	})
}

// OID OBJECT IDENTIFIER; un OID inválido deja el error diferido.
func OID(oid asn1.ObjectIdentifier) Value {
	return primitive(func(b *cryptobyte.Builder) { b.AddASN1ObjectIdentifier(oid) })
}

// Integer INTEGER de 64 bits.
func Integer(n int64) Value {
	return primitive(func(b *cryptobyte.Builder) { b.AddASN1Int64(n) })
}

// BigInteger INTEGER arbitrario (números de serie).
func BigInteger(n *big.Int) Value {
	if n == nil {
		return errValue(fmt.Errorf("INTEGER nil"))
	}
	return primitive(func(b *cryptobyte.Builder) { b.AddASN1BigInt(n) })
}

// Null NULL.
func Null() Value {
	return primitive(func(b *cryptobyte.Builder) { b.AddASN1NULL() })
}

// UTCTime UTCTime YYMMDDhhmmssZ en UTC; solo años 1950-2049.
func UTCTime(t time.Time) Value {
	t = t.UTC()
	if t.Year() < 1950 || t.Year() >= 2050 {
		return errValue(fmt.Errorf("fecha %s fuera del rango de UTCTime (1950-2049)", t.Format(time.RFC3339)))
	}
	return primitive(func(b *cryptobyte.Builder) { b.AddASN1UTCTime(t) })
}

// Raw inserta un TLV ya codificado (p. ej. un certificado). Se valida al codificar.
func Raw(der []byte) Value {
	s := cryptobyte.String(der)
	var content cryptobyte.String
	var tag Tag
	if !s.ReadAnyASN1(&content, &tag) || !s.Empty() {
		return errValue(fmt.Errorf("TLV crudo inválido (%d bytes)", len(der)))
	}
	raw := append([]byte(nil), der...)
	v := Value{tag: tag, raw: raw}
	if tag&classConstructed != 0 {
		children, err := parseChildren(raw[len(raw)-len(content):])
		if err != nil {
			return errValue(err)
		}
		v.children = children
	} else {
		v.content = raw[len(raw)-len(content):]
	}
	return v
}

// Explicit [n] EXPLICIT: envuelve v en un constructed específico de contexto.
func Explicit(n int, v Value) Value {
	if err := checkTagNumber(n); err != nil {
		return errValue(err)
	}
	return constructed(ContextTag(n, true), []Value{v})
}

// Implicit [n] IMPLICIT: reemplaza el tag de v conservando la forma.
func Implicit(n int, v Value) Value {
	if err := checkTagNumber(n); err != nil {
		return errValue(err)
	}
	return v.WithTag(ContextTag(n, v.IsConstructed()))
}

// WithTag copia de v con otro octeto identificador; el contenido no cambia.
func (v Value) WithTag(tag Tag) Value {
	if v.err != nil {
		return v
	}
	if tag&0x1f == 0x1f {
		return errValue(fmt.Errorf("tag de número alto no soportado: 0x%02x", uint8(tag)))
	}
	if (tag&classConstructed != 0) != v.IsConstructed() {
		return errValue(fmt.Errorf("el tag 0x%02x no coincide con la forma del valor", uint8(tag)))
	}
	out := v
	out.tag = tag
	out.raw = nil
	return out
}

func checkTagNumber(n int) error {
	if n < 0 || n > maxLowTag {
		return fmt.Errorf("número de tag %d no soportado (0-%d)", n, maxLowTag)
	}
	return nil
}
