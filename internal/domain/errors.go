package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrInvalidInput      = errors.New("entrada inválida")
	ErrUnauthorized      = errors.New("no autorizado")
	ErrCanonicalization  = errors.New("documento no canonicalizable")
	ErrEncoding          = errors.New("error de codificación ASN.1")
	ErrSignerUnavailable = errors.New("firmador externo no disponible")
	ErrSignerRejected    = errors.New("el firmador externo rechazó la operación")
	ErrSignerTimeout     = errors.New("tiempo de espera agotado con el firmador externo")
	ErrSignerBusy        = errors.New("firmador externo ocupado")
	ErrAuthority         = errors.New("error de la autoridad tributaria")
)
