// Package etaapi envía documentos firmados al portal de facturación de la
// autoridad tributaria (ETA) usando OAuth2 client credentials.
package etaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// ── Constantes ────────────────────────────────────────────────────────────────

const (
	DefaultIDURL  = "https://id.eta.gov.eg"
	DefaultAPIURL = "https://api.invoicing.eta.gov.eg"

	tokenPath      = "/connect/token"
	submissionPath = "/api/v1/documentsubmissions"

	// maxResponse límite de lectura del cuerpo de respuesta.
	maxResponse = 1 << 20
	// bodyExcerpt bytes del cuerpo copiados al error.
	bodyExcerpt = 512
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// DocumentSubmitter puerto de salida hacia el portal. Para tests se puede inyectar un mock.
type DocumentSubmitter interface {
	Submit(ctx context.Context, docs ...*invoice.Document) (*SubmissionResult, error)
}

// SubmissionResult respuesta de POST /api/v1/documentsubmissions.
type SubmissionResult struct {
	SubmissionID      string             `json:"submissionId"`
	AcceptedDocuments []AcceptedDocument `json:"acceptedDocuments"`
	RejectedDocuments []RejectedDocument `json:"rejectedDocuments"`
	StatusCode        int                `json:"-"`
}

type AcceptedDocument struct {
	UUID       string `json:"uuid"`
	LongID     string `json:"longId"`
	InternalID string `json:"internalId"`
}

type RejectedDocument struct {
	InternalID string `json:"internalId"`
	Error      Error  `json:"error"`
}

// Error detalle de validación devuelto por el portal; Details es recursivo.
type Error struct {
	Code         string  `json:"code,omitempty"`
	Message      string  `json:"message,omitempty"`
	Target       string  `json:"target,omitempty"`
	PropertyPath string  `json:"propertyPath,omitempty"`
	Details      []Error `json:"details,omitempty"`
}

// ── Cliente ───────────────────────────────────────────────────────────────────

// Config credenciales y endpoints.
type Config struct {
	IDURL        string
	APIURL       string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client implementa DocumentSubmitter. El token se obtiene y renueva de forma
// transparente por el transporte de oauth2.
type Client struct {
	apiURL     string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient construye el cliente. base puede ser nil; se usa para el token y para la API.
func NewClient(cfg Config, base *http.Client, log *logger.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: faltan ETA_CLIENT_ID / ETA_CLIENT_SECRET", domain.ErrInvalidInput)
	}
	if cfg.IDURL == "" {
		cfg.IDURL = DefaultIDURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	// el servidor de identidad exige el encabezado pososversion
	tokenHTTP := &http.Client{
		Timeout:   base.Timeout,
		Transport: headerTransport{base: base.Transport, header: http.Header{"Pososversion": {"windows"}}},
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.IDURL, "/") + tokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, tokenHTTP)

	hc := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: base.Transport},
	}
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		httpClient: hc,
		log:        log,
	}, nil
}

type submissionRequest struct {
	Documents []*invoice.Document `json:"documents"`
}

// Submit envía uno o más documentos firmados. Sin reintentos: un fallo se
// reporta al llamador con el código HTTP y un extracto del cuerpo.
func (c *Client) Submit(ctx context.Context, docs ...*invoice.Document) (*SubmissionResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no hay documentos para enviar", domain.ErrInvalidInput)
	}

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(submissionRequest{Documents: docs}); err != nil {
		return nil, fmt.Errorf("etaapi: serializar documentos: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+submissionPath, &payload)
	if err != nil {
		return nil, fmt.Errorf("etaapi: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: tiempo agotado o cancelación: %w", domain.ErrAuthority, ctx.Err())
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			status := 0
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}
			return nil, fmt.Errorf("%w: token rechazado (HTTP %d): %s", domain.ErrAuthority, status, excerpt(rerr.Body))
		}
		return nil, fmt.Errorf("%w: llamada HTTP fallida: %w", domain.ErrAuthority, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: leer respuesta: %w", domain.ErrAuthority, err)
	}

	c.log.Info().
		Int("status", resp.StatusCode).
		Int("documents", len(docs)).
		Dur("elapsed", time.Since(start)).
		Msg("envío de documentos a la autoridad")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrAuthority, resp.StatusCode, excerpt(raw))
	}

	var result SubmissionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: respuesta no es JSON: %w", domain.ErrAuthority, err)
	}
	result.StatusCode = resp.StatusCode
	c.log.Debug().
		Str("submission_id", result.SubmissionID).
		Int("accepted", len(result.AcceptedDocuments)).
		Int("rejected", len(result.RejectedDocuments)).
		Msg("resultado del envío")
	return &result, nil
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > bodyExcerpt {
		n := bodyExcerpt
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n] + "…"
	}
	return s
}

// headerTransport agrega encabezados fijos a cada request.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.header {
		req.Header[k] = v
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
