package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// PowerShellArgs argumentos previos al script cuando HELPER_COMMAND es powershell.
var PowerShellArgs = []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File"}

// HelperConfig describe el proceso auxiliar que habla con el almacén de
// certificados del sistema operativo.
type HelperConfig struct {
	Command    string
	Args       []string // van antes del script; nil usa PowerShellArgs
	CertScript string   // imprime el certificado DER en base64
	SignScript string   // recibe resumen base64 y PIN; imprime la firma en base64
	PIN        string
	Env        []string // variables extra para el proceso hijo
}

// HelperSigner ejecuta un proceso por cada operación.
type HelperSigner struct {
	cfg HelperConfig
	log *logger.Logger
}

// stderrExcerpt límite de stderr copiado al mensaje de error.
const stderrExcerpt = 512

func NewHelperSigner(cfg HelperConfig, log *logger.Logger) (*HelperSigner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: HELPER_COMMAND vacío", domain.ErrSignerUnavailable)
	}
	if cfg.CertScript == "" || cfg.SignScript == "" {
		return nil, fmt.Errorf("%w: faltan los scripts de certificado y firma", domain.ErrSignerUnavailable)
	}
	if cfg.Args == nil {
		cfg.Args = PowerShellArgs
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HelperSigner{cfg: cfg, log: log}, nil
}

func (h *HelperSigner) Certificate(ctx context.Context) ([]byte, error) {
	out, err := h.run(ctx, h.cfg.CertScript)
	if err != nil {
		return nil, err
	}
	return decodeBase64Output("certificado", out)
}

func (h *HelperSigner) SignDigest(ctx context.Context, sum []byte) ([]byte, error) {
	args := []string{base64.StdEncoding.EncodeToString(sum)}
	if h.cfg.PIN != "" {
		args = append(args, h.cfg.PIN)
	}
	out, err := h.run(ctx, h.cfg.SignScript, args...)
	if err != nil {
		return nil, err
	}
	return decodeBase64Output("firma", out)
}

func (h *HelperSigner) run(ctx context.Context, script string, args ...string) (string, error) {
	argv := make([]string, 0, len(h.cfg.Args)+1+len(args))
	argv = append(argv, h.cfg.Args...)
	argv = append(argv, script)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, h.cfg.Command, argv...)
	cmd.Env = append(os.Environ(), h.cfg.Env...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	h.log.Debug().
		Str("script", script).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("proceso auxiliar")

	if err != nil {
		if ctx.Err() != nil {
			return "", contextErr(ctx)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg, _ := decodeOutput(stderr.Bytes())
			if len(msg) > stderrExcerpt {
				msg = msg[:stderrExcerpt]
			}
			return "", fmt.Errorf("%w: %s terminó con código %d: %s", domain.ErrSignerRejected, script, exitErr.ExitCode(), msg)
		}
		return "", fmt.Errorf("%w: ejecutar %s: %w", domain.ErrSignerUnavailable, h.cfg.Command, err)
	}

	out, err := decodeOutput(stdout.Bytes())
	if err != nil {
		return "", fmt.Errorf("%w: salida de %s: %w", domain.ErrSignerRejected, script, err)
	}
	return out, nil
}

// decodeOutput acepta UTF-8 y UTF-16 con BOM, que es lo que PowerShell
// escribe según la versión y la consola.
func decodeOutput(b []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func decodeBase64Output(what, out string) ([]byte, error) {
	clean := strings.Join(strings.Fields(out), "")
	if clean == "" {
		return nil, fmt.Errorf("%w: el proceso auxiliar no devolvió %s", domain.ErrSignerRejected, what)
	}
	b, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %s no es base64: %w", domain.ErrSignerRejected, what, err)
	}
	return b, nil
}

func contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrSignerTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %w", domain.ErrSignerUnavailable, ctx.Err())
}
