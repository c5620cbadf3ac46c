package cms

import (
	"encoding/asn1"
	"fmt"
	"strings"
)

// Valores aceptados para el tipo de contenido encapsulado.
const (
	ContentTypeData         = "data"
	ContentTypeDigestedData = "digested-data"
)

// Encapsulation combina el tipo de contenido encapsulado con la presencia del
// contenido. Cuál combinación acepta la autoridad se decide por configuración.
type Encapsulation uint8

const (
	encapsulationUnset Encapsulation = iota
	AttachedData
	DetachedData
	AttachedDigestedData
	DetachedDigestedData
)

// NewEncapsulation traduce la configuración (tipo + adjunto) al enum.
func NewEncapsulation(contentType string, attached bool) (Encapsulation, error) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case ContentTypeData:
		if attached {
			return AttachedData, nil
		}
		return DetachedData, nil
	case ContentTypeDigestedData, "digesteddata":
		if attached {
			return AttachedDigestedData, nil
		}
		return DetachedDigestedData, nil
	default:
		return encapsulationUnset, fmt.Errorf("cms: tipo de contenido %q no soportado (data | digested-data)", contentType)
	}
}

// Valid indica si el valor es uno de los cuatro definidos.
func (e Encapsulation) Valid() bool {
	return e >= AttachedData && e <= DetachedDigestedData
}

// ContentType nombre del tipo de contenido.
func (e Encapsulation) ContentType() string {
	switch e {
	case AttachedData, DetachedData:
		return ContentTypeData
	case AttachedDigestedData, DetachedDigestedData:
		return ContentTypeDigestedData
	default:
		return ""
	}
}

// ContentTypeOID OID del eContentType y del atributo content-type.
func (e Encapsulation) ContentTypeOID() asn1.ObjectIdentifier {
	switch e {
	case AttachedData, DetachedData:
		return OIDData
	case AttachedDigestedData, DetachedDigestedData:
		return OIDDigestedData
	default:
		return nil
	}
}

// Attached indica si eContent viaja dentro del sobre.
func (e Encapsulation) Attached() bool {
	return e == AttachedData || e == AttachedDigestedData
}

func (e Encapsulation) String() string {
	switch e {
	case AttachedData:
		return "data/attached"
	case DetachedData:
		return "data/detached"
	case AttachedDigestedData:
		return "digested-data/attached"
	case DetachedDigestedData:
		return "digested-data/detached"
	default:
		return "unset"
	}
}

// Policy decisiones de codificación que dependen del verificador de la autoridad.
type Policy struct {
	Encapsulation Encapsulation
	// OmitAlgorithmNull emite AlgorithmIdentifier sin parámetros NULL.
	OmitAlgorithmNull bool
	// EmptyDigestAlgorithms deja vacío el SET digestAlgorithms de SignedData.
	EmptyDigestAlgorithms bool
}

// Validate exige una encapsulación explícita; no hay valor por defecto.
func (p Policy) Validate() error {
	if !p.Encapsulation.Valid() {
		return fmt.Errorf("cms: política de encapsulación no definida")
	}
	return nil
}
