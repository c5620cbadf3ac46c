package http_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/firmador-eta/internal/application/dto"
	"github.com/jhoicas/firmador-eta/internal/application/signing"
	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/cms"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/digest"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/etaapi"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/signer"
	apphttp "github.com/jhoicas/firmador-eta/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/firmador-eta/pkg/jwt"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testJWTSecret = "test-secret-key-for-unit-tests"
	testIssuer    = "firmador-eta-test"
	invoiceBody   = `{"documentType":"i","internalID":"F-7","notes":null,"totalAmount":410.98}`
)

var softwareSigner = sync.OnceValues(func() (*signer.SoftwareSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(99),
		Subject:      pkix.Name{CommonName: "Empresa HTTP"},
		NotBefore:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return signer.NewSoftwareSigner(key, der)
})

func realBuilder(t *testing.T) signing.EnvelopeBuilder {
	t.Helper()
	s, err := softwareSigner()
	require.NoError(t, err)
	b, err := cms.NewBuilder(cms.Options{
		Signer:      s,
		Digest:      digest.NewSHA256(),
		Clock:       clockwork.NewFakeClockAt(time.Date(2026, 2, 12, 22, 2, 35, 0, time.UTC)),
		Policy:      cms.Policy{Encapsulation: cms.DetachedDigestedData, OmitAlgorithmNull: true},
		SignTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return b
}

type failingBuilder struct{ err error }

func (f failingBuilder) Sign(context.Context, *invoice.Document) (*cms.Envelope, error) {
	return nil, f.err
}

type fakeSubmitter struct{}

func (fakeSubmitter) Submit(ctx context.Context, docs ...*invoice.Document) (*etaapi.SubmissionResult, error) {
	return &etaapi.SubmissionResult{
		SubmissionID:      "SUB-1",
		AcceptedDocuments: []etaapi.AcceptedDocument{{UUID: "U1", InternalID: "F-7"}},
	}, nil
}

// buildTestApp arma la app igual que cmd/api: ErrorHandler, RequestLogger y Router.
func buildTestApp(t *testing.T, builder signing.EnvelopeBuilder, secret string, withSubmit bool) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: apphttp.ErrorHandler})
	app.Use(apphttp.RequestLogger(logger.Nop()))

	signUC := signing.NewSignInvoiceUseCase(builder, nil)
	var submitUC *signing.SubmitInvoiceUseCase
	if withSubmit {
		submitUC = signing.NewSubmitInvoiceUseCase(signUC, fakeSubmitter{}, nil)
	}
	apphttp.Router(app, apphttp.RouterDeps{
		SignUC:    signUC,
		SubmitUC:  submitUC,
		JWTSecret: secret,
		JWTIssuer: testIssuer,
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, body, authHeader string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) dto.ErrorResponse {
	t.Helper()
	var e dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func tokenWithScopes(t *testing.T, scopes ...string) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, "erp-01", testIssuer, scopes, 60)
	require.NoError(t, err)
	return "Bearer " + tok
}

// ──────────────────────────────────────────────────────────────────────────────
// POST /api/invoice/sign
// ──────────────────────────────────────────────────────────────────────────────

func TestSign_DevuelveDocumentoFirmado(t *testing.T) {
	app := buildTestApp(t, realBuilder(t), "", false)
	resp := doRequest(t, app, http.MethodPost, "/api/invoice/sign", invoiceBody, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(apphttp.HeaderRequestID))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), `{"documentType":"I","internalID":"F-7","totalAmount":410.98,"signatures":[{"signatureType":"I","value":"`),
		"conserva el orden y agrega la firma al final: %s", raw)

	doc, err := invoice.ParseJSON(raw)
	require.NoError(t, err)
	sigs, _ := doc.Get(invoice.SignaturesField)
	value, _ := sigs.Items()[0].Object().Get("value")
	in, err := cms.InspectBase64(value.Str())
	require.NoError(t, err)
	assert.NoError(t, in.VerifySignature())
}

func TestSign_RespetaRequestID(t *testing.T) {
	app := buildTestApp(t, realBuilder(t), "", false)
	req := httptest.NewRequest(http.MethodPost, "/api/invoice/sign", strings.NewReader(invoiceBody))
	req.Header.Set(apphttp.HeaderRequestID, "req-123")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(apphttp.HeaderRequestID))
}

func TestSign_CuerposInvalidos(t *testing.T) {
	deep := strings.Repeat(`{"a":`, invoice.MaxDepth+1) + `1` + strings.Repeat(`}`, invoice.MaxDepth+1)
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"sin_cuerpo", "", http.StatusBadRequest, "EMPTY_BODY"},
		{"objeto_vacio", "{}", http.StatusBadRequest, "EMPTY_BODY"},
		{"json_invalido", `{"a":`, http.StatusBadRequest, "INVALID_BODY"},
		{"no_es_objeto", `[1,2]`, http.StatusBadRequest, "INVALID_BODY"},
		{"anidamiento_excesivo", deep, http.StatusUnprocessableEntity, "CANONICALIZATION"},
		{"arreglo_en_arreglo", `{"a":[[1]]}`, http.StatusUnprocessableEntity, "CANONICALIZATION"},
	}
	app := buildTestApp(t, realBuilder(t), "", false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, app, http.MethodPost, "/api/invoice/sign", tt.body, "")
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
		})
	}
}

func TestSign_ErroresDelFirmador(t *testing.T) {
	stage := func(kind error) error {
		return &cms.StageError{Stage: cms.StateAttributesBuilt, Kind: kind, Err: errors.New("detalle")}
	}
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no_disponible", stage(domain.ErrSignerUnavailable), http.StatusServiceUnavailable, "SIGNER_UNAVAILABLE"},
		{"ocupado", stage(domain.ErrSignerBusy), http.StatusServiceUnavailable, "SIGNER_BUSY"},
		{"rechazado", stage(domain.ErrSignerRejected), http.StatusBadGateway, "SIGNER_REJECTED"},
		{"tiempo_agotado", stage(domain.ErrSignerTimeout), http.StatusGatewayTimeout, "SIGNER_TIMEOUT"},
		{"codificacion", stage(domain.ErrEncoding), http.StatusInternalServerError, "ENCODING"},
		{"desconocido", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := buildTestApp(t, failingBuilder{err: tt.err}, "", false)
			resp := doRequest(t, app, http.MethodPost, "/api/invoice/sign", invoiceBody, "")
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// POST /api/invoice/submit
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmit_Envia(t *testing.T) {
	app := buildTestApp(t, realBuilder(t), "", true)
	resp := doRequest(t, app, http.MethodPost, "/api/invoice/submit", invoiceBody, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out dto.SubmissionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "SUB-1", out.SubmissionID)
	assert.NotEmpty(t, out.Signature)
	require.Len(t, out.AcceptedDocuments, 1)
}

func TestSubmit_SinCredencialesNoExiste(t *testing.T) {
	app := buildTestApp(t, realBuilder(t), "", false)
	resp := doRequest(t, app, http.MethodPost, "/api/invoice/submit", invoiceBody, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Rutas generales
// ──────────────────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	app := buildTestApp(t, realBuilder(t), testJWTSecret, false)
	resp := doRequest(t, app, http.MethodGet, "/health", "", "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body dto.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func TestRutaDesconocida_404JSON(t *testing.T) {
	app := buildTestApp(t, realBuilder(t), "", false)
	resp := doRequest(t, app, http.MethodGet, "/no-existe", "", "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)
}

// ──────────────────────────────────────────────────────────────────────────────
// Autenticación JWT
// ──────────────────────────────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"sin_header", "", http.StatusUnauthorized, "MISSING_TOKEN"},
		{"formato_invalido", "Token abc", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"token_invalido", "Bearer token.invalido.aqui", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"sin_alcance", tokenWithScopes(t, pkgjwt.ScopeSubmit), http.StatusForbidden, "FORBIDDEN"},
	}
	app := buildTestApp(t, realBuilder(t), testJWTSecret, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, app, http.MethodPost, "/api/invoice/sign", invoiceBody, tt.header)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
		})
	}
}

func TestAuth_ConAlcanceFirma(t *testing.T) {
	app := buildTestApp(t, realBuilder(t), testJWTSecret, false)
	resp := doRequest(t, app, http.MethodPost, "/api/invoice/sign", invoiceBody, tokenWithScopes(t, pkgjwt.ScopeSign))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
