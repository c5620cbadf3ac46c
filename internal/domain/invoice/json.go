package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jhoicas/firmador-eta/internal/domain"
)

// ParseJSON decodifica un objeto JSON conservando el orden de los campos.
// Los números se conservan como decimales exactos (sin pasar por float64).
func ParseJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: JSON inválido: %v", domain.ErrInvalidInput, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: se esperaba un objeto JSON", domain.ErrInvalidInput)
	}
	doc, err := parseObject(dec, 1)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: datos después del objeto JSON", domain.ErrInvalidInput)
	}
	return doc, nil
}

func parseObject(dec *json.Decoder, depth int) (*Document, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: anidamiento mayor a %d niveles", domain.ErrCanonicalization, MaxDepth)
	}
	doc := &Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: JSON inválido: %v", domain.ErrInvalidInput, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: llave no textual %v", domain.ErrInvalidInput, tok)
		}
		v, err := parseValue(dec, depth)
		if err != nil {
			return nil, err
		}
		doc.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: JSON inválido: %v", domain.ErrInvalidInput, err)
	}
	return doc, nil
}

func parseArray(dec *json.Decoder, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, fmt.Errorf("%w: anidamiento mayor a %d niveles", domain.ErrCanonicalization, MaxDepth)
	}
	var items []Value
	for dec.More() {
		v, err := parseValue(dec, depth)
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, fmt.Errorf("%w: JSON inválido: %v", domain.ErrInvalidInput, err)
	}
	return Value{kind: KindArray, arr: items}, nil
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("%w: JSON inválido: %v", domain.ErrInvalidInput, err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj, err := parseObject(dec, depth+1)
			if err != nil {
				return Value{}, err
			}
			return Object(obj), nil
		case '[':
			return parseArray(dec, depth+1)
		}
		return Value{}, fmt.Errorf("%w: delimitador inesperado %v", domain.ErrInvalidInput, t)
	case string:
		return String(t), nil
	case json.Number:
		v, err := NumberFromString(t.String())
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return v, nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("%w: token inesperado %v", domain.ErrInvalidInput, tok)
	}
}

// MarshalJSON emite el documento en orden de inserción.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSONObject(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON permite usar Document como destino de json.Unmarshal.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

func writeJSONObject(buf *bytes.Buffer, d *Document) error {
	buf.WriteByte('{')
	for i, f := range d.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(buf, f.Name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSONValue(buf, f.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		return writeJSONString(buf, v.str)
	case KindNumber, KindBool:
		buf.WriteString(v.Text())
	case KindObject:
		return writeJSONObject(buf, v.obj)
	case KindArray:
		buf.WriteByte('[')
		for i, it := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONValue(buf, it); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("tipo de valor desconocido %v", v.kind)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
