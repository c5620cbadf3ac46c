package invoice_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
)

// ──────────────────────────────────────────────────────────────────────────────
// Vector extremo a extremo:
//
//	{"documentType":"i","a":{"x":1},"list":[{"y":2}]}
//
// normalizado y serializado debe producir exactamente
//
//	"DOCUMENTTYPE""I""A""X""1""LIST""LIST""Y""2"
//
// y su SHA-256 (calculado con sha256sum) es testCanonicalDigest.
// ──────────────────────────────────────────────────────────────────────────────

const (
	testInvoiceJSON     = `{"documentType":"i","a":{"x":1},"list":[{"y":2}]}`
	testCanonical       = `"DOCUMENTTYPE""I""A""X""1""LIST""LIST""Y""2"`
	testCanonicalDigest = "5b27d2ab759a474b7df8dc0fda8a99997be6cba713e78869a342af61499d0c4f"
)

func mustCanonical(t *testing.T, raw string) []byte {
	t.Helper()
	doc, err := invoice.ParseJSON([]byte(raw))
	require.NoError(t, err, "ParseJSON no debe fallar con JSON válido")
	out, err := invoice.Canonicalize(invoice.Normalize(doc))
	require.NoError(t, err, "Canonicalize no debe fallar con un documento normalizado")
	return out
}

func TestCanonicalize_VectorExacto(t *testing.T) {
	out := mustCanonical(t, testInvoiceJSON)
	assert.Equal(t, testCanonical, string(out))

	sum := sha256.Sum256(out)
	assert.Equal(t, testCanonicalDigest, hex.EncodeToString(sum[:]),
		"el digest del canónico debe coincidir con el vector calculado externamente")
}

func TestCanonicalize_EsDeterminista(t *testing.T) {
	doc, err := invoice.ParseJSON([]byte(testInvoiceJSON))
	require.NoError(t, err)
	norm := invoice.Normalize(doc)

	first, err := invoice.Canonicalize(norm)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := invoice.Canonicalize(norm)
		require.NoError(t, err)
		assert.Equal(t, first, again, "la serialización debe ser idéntica en cada llamada")
	}
}

func TestCanonicalize_RespetaOrdenDeCampos(t *testing.T) {
	ab := mustCanonical(t, `{"a":"1","b":"2"}`)
	ba := mustCanonical(t, `{"b":"2","a":"1"}`)

	assert.Equal(t, `"A""1""B""2"`, string(ab))
	assert.Equal(t, `"B""2""A""1"`, string(ba))
	assert.NotEqual(t, ab, ba, "el orden de los campos es parte del dato firmado")
}

func TestCanonicalize_NulosNoEmitenNada(t *testing.T) {
	withNull := mustCanonical(t, `{"a":"1","b":null,"c":{"d":null,"e":"2"}}`)
	without := mustCanonical(t, `{"a":"1","c":{"e":"2"}}`)
	assert.Equal(t, without, withNull)
	assert.Equal(t, `"A""1""C""E""2"`, string(withNull))
}

func TestCanonicalize_NuloDentroDeArreglo(t *testing.T) {
	out := mustCanonical(t, `{"l":[null,"x",null]}`)
	assert.Equal(t, `"L""L""x"`, string(out))
}

func TestCanonicalize_ArregloEmiteMarcadorYNombrePorElemento(t *testing.T) {
	out := mustCanonical(t, `{"items":["a","b","c"]}`)
	assert.Equal(t, `"ITEMS""ITEMS""a""ITEMS""b""ITEMS""c"`, string(out))
}

func TestCanonicalize_ArregloVacioSoloMarcador(t *testing.T) {
	out := mustCanonical(t, `{"items":[],"z":"1"}`)
	assert.Equal(t, `"ITEMS""Z""1"`, string(out))
}

func TestCanonicalize_ArregloDeObjetos(t *testing.T) {
	raw := `{"invoiceLines":[{"description":"A","quantity":2},{"description":"B","quantity":1.5}]}`
	out := mustCanonical(t, raw)
	assert.Equal(t,
		`"INVOICELINES""INVOICELINES""DESCRIPTION""A""QUANTITY""2""INVOICELINES""DESCRIPTION""B""QUANTITY""1.5"`,
		string(out))
}

func TestCanonicalize_EscalaresSinEscapar(t *testing.T) {
	out := mustCanonical(t, `{"name":"Ahmed \"El\" Sayed","path":"a\\b","ok":true,"no":false}`)
	assert.Equal(t, `"NAME""Ahmed "El" Sayed""PATH""a\b""OK""true""NO""false"`, string(out))
}

func TestCanonicalize_Numeros(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"entero", `{"n":1}`, `"N""1"`},
		{"ceros_a_la_derecha", `{"n":4500.00}`, `"N""4500"`},
		{"decimal", `{"n":0.14}`, `"N""0.14"`},
		{"negativo", `{"n":-12.50}`, `"N""-12.5"`},
		{"exponente", `{"n":1e3}`, `"N""1000"`},
		// sin notación exponencial ni pérdida de precisión
		{"exponente_grande", `{"n":1e21}`, `"N""1000000000000000000000"`},
		{"exponente_negativo", `{"n":1e-7}`, `"N""0.0000001"`},
		{"entero_mayor_a_2_53", `{"n":12345678901234567890}`, `"N""12345678901234567890"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(mustCanonical(t, tt.raw)))
		})
	}
}

func TestCanonicalize_NombresEnMayusculasASCII(t *testing.T) {
	out := mustCanonical(t, `{"totalSalesAmount":"10","ñandú":"x"}`)
	assert.Equal(t, `"TOTALSALESAMOUNT""10""ñANDú""x"`, string(out),
		"solo las letras a-z se pasan a mayúsculas")
}

func TestCanonicalize_ArregloAnidadoEnArreglo_Falla(t *testing.T) {
	doc := invoice.NewDocument(invoice.Field{
		Name:  "m",
		Value: invoice.Array(invoice.Array(invoice.String("x"))),
	})
	_, err := invoice.Canonicalize(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCanonicalization)
}

func TestCanonicalize_ReferenciaCiclica_Falla(t *testing.T) {
	doc := invoice.NewDocument(invoice.Field{Name: "a", Value: invoice.String("1")})
	doc.Set("self", invoice.Object(doc))

	_, err := invoice.Canonicalize(invoice.Normalize(doc))
	require.Error(t, err, "un ciclo debe detectarse por profundidad")
	assert.ErrorIs(t, err, domain.ErrCanonicalization)
}

func TestCanonicalize_DocumentoConstruidoEnCodigo(t *testing.T) {
	doc := invoice.NewDocument(
		invoice.Field{Name: "documentType", Value: invoice.String("I")},
		invoice.Field{Name: "total", Value: invoice.Number(decimal.RequireFromString("100.10"))},
		invoice.Field{Name: "issuer", Value: invoice.Object(invoice.NewDocument(
			invoice.Field{Name: "id", Value: invoice.String("123")},
		))},
	)
	out, err := invoice.Canonicalize(doc)
	require.NoError(t, err)
	assert.Equal(t, `"DOCUMENTTYPE""I""TOTAL""100.1""ISSUER""ID""123"`, string(out))
}

func TestSerializeValue(t *testing.T) {
	out, err := invoice.SerializeValue(invoice.String("abc"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(out))

	out, err = invoice.SerializeValue(invoice.Null())
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = invoice.SerializeValue(invoice.Array(invoice.String("x")))
	assert.ErrorIs(t, err, domain.ErrCanonicalization)
}
