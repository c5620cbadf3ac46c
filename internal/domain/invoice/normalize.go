package invoice

import "strings"

// Normalize produce una copia del documento lista para canonicalizar:
//   - documentType (nivel raíz) en mayúsculas
//   - campos nulos eliminados de forma recursiva, también dentro de arreglos
//   - se descarta un campo signatures previo (la firma nunca se firma a sí misma)
//
// El documento de entrada no se modifica.
func Normalize(doc *Document) *Document {
	out := stripNulls(doc, 1)
	out.Delete(SignaturesField)
	if v, ok := out.Get(DocumentTypeField); ok && v.Kind() == KindString {
		out.Set(DocumentTypeField, String(strings.ToUpper(v.Str())))
	}
	return out
}

// stripNulls deja de copiar pasado MaxDepth; Canonicalize reporta ese caso.
func stripNulls(doc *Document, depth int) *Document {
	out := &Document{}
	if doc == nil {
		return out
	}
	if depth > MaxDepth {
		return doc
	}
	for _, f := range doc.fields {
		if f.Value.IsNull() {
			continue
		}
		out.fields = append(out.fields, Field{Name: f.Name, Value: stripValue(f.Value, depth)})
	}
	return out
}

func stripValue(v Value, depth int) Value {
	switch v.kind {
	case KindObject:
		return Object(stripNulls(v.obj, depth+1))
	case KindArray:
		items := make([]Value, 0, len(v.arr))
		for _, it := range v.arr {
			if it.IsNull() {
				continue
			}
			items = append(items, stripValue(it, depth+1))
		}
		return Value{kind: KindArray, arr: items}
	default:
		return v
	}
}

// WithSignature devuelve una copia del documento con el arreglo signatures
// agregado al final: [{"signatureType": sigType, "value": value}].
func WithSignature(doc *Document, sigType, value string) *Document {
	out := doc.Clone()
	if out == nil {
		out = &Document{}
	}
	out.Delete(SignaturesField)
	sig := NewDocument(
		Field{Name: "signatureType", Value: String(sigType)},
		Field{Name: "value", Value: String(value)},
	)
	out.Set(SignaturesField, Array(Object(sig)))
	return out
}
