// Package invoice modela el documento de factura ETA como un mapa ordenado.
// El orden de los campos es parte del dato: la serialización canónica que se
// firma depende de él, por lo que nunca se ordenan llaves.
package invoice

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Nombres de campo con tratamiento especial.
const (
	DocumentTypeField = "documentType"
	SignaturesField   = "signatures"
)

// MaxDepth límite de anidamiento aceptado (objetos + arreglos).
const MaxDepth = 64

// Kind tipo de un valor del documento.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value valor de un campo: escalar, objeto anidado o arreglo.
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
	b    bool
	obj  *Document
	arr  []Value
}

// Null valor nulo.
func Null() Value { return Value{kind: KindNull} }

// String valor texto.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number valor numérico.
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// NumberFromString interpreta un literal numérico JSON.
func NumberFromString(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, fmt.Errorf("número inválido %q: %w", s, err)
	}
	return Number(d), nil
}

// Bool valor booleano.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Object valor objeto anidado.
func Object(d *Document) Value { return Value{kind: KindObject, obj: d} }

// Array valor arreglo.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value(nil), items...)}
}

func (v Value) Kind() Kind        { return v.kind }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) Str() string       { return v.str }
func (v Value) Bool() bool        { return v.b }
func (v Value) Object() *Document { return v.obj }

// Decimal devuelve el valor numérico (cero si no es número).
func (v Value) Decimal() decimal.Decimal { return v.num }

// Items devuelve una copia de los elementos del arreglo.
func (v Value) Items() []Value { return append([]Value(nil), v.arr...) }

// Text representación textual de un escalar, tal como se emite en la forma canónica.
// Los números usan su forma decimal más corta (4500.00 -> 4500).
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func (v Value) clone(depth int) Value {
	switch v.kind {
	case KindObject:
		return Object(v.obj.cloneDepth(depth + 1))
	case KindArray:
		items := make([]Value, len(v.arr))
		for i, it := range v.arr {
			items[i] = it.clone(depth + 1)
		}
		return Value{kind: KindArray, arr: items}
	default:
		return v
	}
}

// Field par nombre/valor en orden de inserción.
type Field struct {
	Name  string
	Value Value
}

// Document mapa ordenado de campos.
type Document struct {
	fields []Field
}

// NewDocument construye un documento con los campos en el orden dado.
// Un nombre repetido conserva la primera posición y el último valor.
func NewDocument(fields ...Field) *Document {
	d := &Document{}
	for _, f := range fields {
		d.Set(f.Name, f.Value)
	}
	return d
}

// Len número de campos.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Fields copia de los campos en orden.
func (d *Document) Fields() []Field {
	if d == nil {
		return nil
	}
	return append([]Field(nil), d.fields...)
}

// Get devuelve el valor del campo name.
func (d *Document) Get(name string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	for _, f := range d.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set reemplaza el valor conservando la posición, o agrega el campo al final.
func (d *Document) Set(name string, v Value) {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Value = v
			return
		}
	}
	d.fields = append(d.fields, Field{Name: name, Value: v})
}

// Delete elimina el campo si existe.
func (d *Document) Delete(name string) {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields = append(d.fields[:i:i], d.fields[i+1:]...)
			return
		}
	}
}

// Clone copia profunda hasta MaxDepth niveles.
func (d *Document) Clone() *Document {
	return d.cloneDepth(1)
}

func (d *Document) cloneDepth(depth int) *Document {
	if d == nil || depth > MaxDepth {
		return d
	}
	out := &Document{fields: make([]Field, len(d.fields))}
	for i, f := range d.fields {
		out.fields[i] = Field{Name: f.Name, Value: f.Value.clone(depth)}
	}
	return out
}
