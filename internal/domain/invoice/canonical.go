package invoice

import (
	"bytes"
	"fmt"

	"github.com/jhoicas/firmador-eta/internal/domain"
)

// Canonicalize serializa el documento según las reglas de la autoridad:
//
//	objeto  -> por cada campo en orden: "NOMBRE" seguido del valor serializado
//	escalar -> "texto" sin escapar
//	arreglo -> "NOMBRE" una vez y luego "NOMBRE" antes de cada elemento
//	null    -> nada
//
// Los nombres se pasan a mayúsculas ASCII; las llaves nunca se ordenan.
// Llamar Normalize antes: un campo nulo emite su nombre sin valor.
func Canonicalize(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeDocument(&buf, doc, 1); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializeValue serializa un valor suelto con las mismas reglas.
// Un arreglo sin nombre de campo no tiene representación canónica.
func SerializeValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if v.kind == KindArray {
		return nil, fmt.Errorf("%w: arreglo sin nombre de campo", domain.ErrCanonicalization)
	}
	if err := writeValue(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDocument(buf *bytes.Buffer, doc *Document, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: anidamiento mayor a %d niveles (¿referencia cíclica?)", domain.ErrCanonicalization, MaxDepth)
	}
	for _, f := range doc.Fields() {
		name := quote(asciiUpper(f.Name))
		if f.Value.kind != KindArray {
			buf.WriteString(name)
			if err := writeValue(buf, f.Value, depth); err != nil {
				return err
			}
			continue
		}
		// marcador de grupo, luego el nombre repetido por elemento
		buf.WriteString(name)
		for _, it := range f.Value.arr {
			if it.kind == KindArray {
				return fmt.Errorf("%w: arreglo anidado directamente en %q", domain.ErrCanonicalization, f.Name)
			}
			buf.WriteString(name)
			if err := writeValue(buf, it, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeValue(buf *bytes.Buffer, v Value, depth int) error {
	switch v.kind {
	case KindNull:
		return nil
	case KindString, KindNumber, KindBool:
		buf.WriteString(quote(v.Text()))
		return nil
	case KindObject:
		return writeDocument(buf, v.obj, depth+1)
	default:
		return fmt.Errorf("%w: tipo %v no serializable", domain.ErrCanonicalization, v.kind)
	}
}

func quote(s string) string {
	return `"` + s + `"`
}

func asciiUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
