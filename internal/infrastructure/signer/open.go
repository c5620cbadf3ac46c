package signer

import (
	"fmt"
	"strings"

	"github.com/jhoicas/firmador-eta/pkg/eta"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// Backends soportados en SIGNER_BACKEND.
const (
	BackendPKCS11 = "pkcs11"
	BackendP12    = "p12"
	BackendHelper = "helper"
)

// Config agrupa la configuración de todos los backends; solo se usa la del elegido.
type Config struct {
	Backend     string
	BusyPolicy  BusyPolicy
	PKCS11      PKCS11Config
	P12Path     string
	P12Password string
	Helper      HelperConfig
}

// Open construye el firmador del backend configurado envuelto en Exclusive.
// El llamador debe cerrar el resultado al terminar.
func Open(cfg Config, log *logger.Logger) (*Exclusive, error) {
	if log == nil {
		log = logger.Nop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))

	var (
		inner eta.ExternalSigner
		err   error
	)
	switch backend {
	case BackendPKCS11:
		inner, err = OpenPKCS11(cfg.PKCS11, log)
	case BackendP12:
		inner, err = LoadP12(cfg.P12Path, cfg.P12Password)
	case BackendHelper:
		inner, err = NewHelperSigner(cfg.Helper, log)
	default:
		return nil, fmt.Errorf("SIGNER_BACKEND desconocido: %q (pkcs11 | p12 | helper)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("backend", backend).Str("busy_policy", string(cfg.BusyPolicy)).Msg("firmador externo configurado")
	return NewExclusive(inner, cfg.BusyPolicy), nil
}
