package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// PKCS11Config selección del token y de la llave.
type PKCS11Config struct {
	Module     string // ruta a la librería del fabricante (.so / .dll)
	Slot       int    // índice en la lista de slots con token; < 0 para no fijarlo
	TokenLabel string
	KeyLabel   string
	PIN        string
}

// PKCS11Signer firma con la llave RSA de un token USB o HSM.
// La sesión PKCS#11 no admite llamadas concurrentes; mu las serializa.
type PKCS11Signer struct {
	mu      sync.Mutex
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	key     pkcs11.ObjectHandle
	cert    []byte
	log     *logger.Logger
	closed  bool
}

// OpenPKCS11 carga el módulo, abre sesión, hace login y localiza llave y certificado.
func OpenPKCS11(cfg PKCS11Config, log *logger.Logger) (*PKCS11Signer, error) {
	if log == nil {
		log = logger.Nop()
	}
	if strings.TrimSpace(cfg.Module) == "" {
		return nil, fmt.Errorf("%w: PKCS11_MODULE vacío", domain.ErrSignerUnavailable)
	}
	p := pkcs11.New(cfg.Module)
	if p == nil {
		return nil, fmt.Errorf("%w: no se pudo cargar el módulo PKCS#11 %s", domain.ErrSignerUnavailable, cfg.Module)
	}
	if err := p.Initialize(); err != nil {
		var code pkcs11.Error
		if !errors.As(err, &code) || code != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			p.Destroy()
			return nil, classifyPKCS11("initialize", err)
		}
	}

	s := &PKCS11Signer{ctx: p, log: log}
	if err := s.open(cfg); err != nil {
		p.Finalize()
		p.Destroy()
		return nil, err
	}
	log.Info().Str("module", cfg.Module).Int("cert_bytes", len(s.cert)).Msg("token PKCS#11 listo")
	return s, nil
}

func (s *PKCS11Signer) open(cfg PKCS11Config) error {
	slot, err := s.selectSlot(cfg)
	if err != nil {
		return err
	}
	session, err := s.ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return classifyPKCS11("open session", err)
	}
	s.session = session

	if cfg.PIN != "" {
		if err := s.ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
			var code pkcs11.Error
			if !errors.As(err, &code) || code != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
				s.ctx.CloseSession(session)
				return classifyPKCS11("login", err)
			}
		}
	}

	key, keyID, err := s.findKey(cfg.KeyLabel)
	if err != nil {
		s.ctx.Logout(session)
		s.ctx.CloseSession(session)
		return err
	}
	s.key = key

	cert, err := s.findCertificate(keyID)
	if err != nil {
		s.ctx.Logout(session)
		s.ctx.CloseSession(session)
		return err
	}
	s.cert = cert
	return nil
}

// selectSlot fija el slot por índice, por etiqueta del token o toma el primero.
func (s *PKCS11Signer) selectSlot(cfg PKCS11Config) (uint, error) {
	slots, err := s.ctx.GetSlotList(true)
	if err != nil {
		return 0, classifyPKCS11("slots", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("%w: no hay token conectado", domain.ErrSignerUnavailable)
	}

	if cfg.Slot >= 0 {
		if cfg.Slot >= len(slots) {
			return 0, fmt.Errorf("%w: slot %d inexistente (hay %d)", domain.ErrSignerUnavailable, cfg.Slot, len(slots))
		}
		return slots[cfg.Slot], nil
	}
	if cfg.TokenLabel != "" {
		for _, slot := range slots {
			info, err := s.ctx.GetTokenInfo(slot)
			if err != nil {
				continue
			}
			if strings.TrimRight(info.Label, " \x00") == cfg.TokenLabel {
				return slot, nil
			}
		}
		return 0, fmt.Errorf("%w: no hay token con etiqueta %q", domain.ErrSignerUnavailable, cfg.TokenLabel)
	}
	if len(slots) > 1 {
		s.log.Warn().Int("slots", len(slots)).Msg("varios tokens conectados; se usa el primero")
	}
	return slots[0], nil
}

func (s *PKCS11Signer) find(template []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if err := s.ctx.FindObjectsInit(s.session, template); err != nil {
		return nil, classifyPKCS11("find init", err)
	}
	defer s.ctx.FindObjectsFinal(s.session)

	objs, _, err := s.ctx.FindObjects(s.session, 10)
	if err != nil {
		return nil, classifyPKCS11("find", err)
	}
	return objs, nil
}

// findKey devuelve la llave privada RSA y su CKA_ID para emparejar el certificado.
func (s *PKCS11Signer) findKey(label string) (pkcs11.ObjectHandle, []byte, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	objs, err := s.find(template)
	if err != nil {
		return 0, nil, err
	}
	if len(objs) == 0 {
		return 0, nil, fmt.Errorf("%w: no hay llave privada RSA en el token (label=%q)", domain.ErrSignerUnavailable, label)
	}
	if len(objs) > 1 {
		s.log.Warn().Int("keys", len(objs)).Str("label", label).Msg("varias llaves privadas; se usa la primera")
	}

	attrs, err := s.ctx.GetAttributeValue(s.session, objs[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
	})
	if err != nil || len(attrs) == 0 {
		return objs[0], nil, nil
	}
	return objs[0], attrs[0].Value, nil
}

func (s *PKCS11Signer) findCertificate(keyID []byte) ([]byte, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
		pkcs11.NewAttribute(pkcs11.CKA_CERTIFICATE_TYPE, pkcs11.CKC_X_509),
	}
	var objs []pkcs11.ObjectHandle
	var err error
	if len(keyID) > 0 {
		withID := append(append([]*pkcs11.Attribute(nil), template...), pkcs11.NewAttribute(pkcs11.CKA_ID, keyID))
		objs, err = s.find(withID)
	}
	if err != nil || len(objs) == 0 {
		objs, err = s.find(template)
	}
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: no hay certificado en el token", domain.ErrSignerUnavailable)
	}

	attrs, err := s.ctx.GetAttributeValue(s.session, objs[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, classifyPKCS11("leer certificado", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return nil, fmt.Errorf("%w: certificado sin valor", domain.ErrSignerRejected)
	}
	return attrs[0].Value, nil
}

func (s *PKCS11Signer) Certificate(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: sesión PKCS#11 cerrada", domain.ErrSignerUnavailable)
	}
	return append([]byte(nil), s.cert...), nil
}

// SignDigest firma con CKM_RSA_PKCS sobre el DigestInfo del resumen.
func (s *PKCS11Signer) SignDigest(ctx context.Context, sum []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	di, err := DigestInfo(sum)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: sesión PKCS#11 cerrada", domain.ErrSignerUnavailable)
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := s.ctx.SignInit(s.session, mech, s.key); err != nil {
		return nil, classifyPKCS11("sign init", err)
	}
	sig, err := s.ctx.Sign(s.session, di)
	if err != nil {
		return nil, classifyPKCS11("sign", err)
	}
	return sig, nil
}

// Close cierra sesión y libera el módulo. Es idempotente.
func (s *PKCS11Signer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ctx.Logout(s.session)
	err := s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	return err
}

// classifyPKCS11 traduce los códigos CKR_* a los errores del dominio.
// Problemas de PIN o de permisos son rechazo; el resto se trata como token no disponible.
func classifyPKCS11(op string, err error) error {
	var code pkcs11.Error
	if errors.As(err, &code) {
		switch code {
		case pkcs11.CKR_PIN_INCORRECT, pkcs11.CKR_PIN_INVALID, pkcs11.CKR_PIN_LEN_RANGE,
			pkcs11.CKR_PIN_EXPIRED, pkcs11.CKR_PIN_LOCKED, pkcs11.CKR_FUNCTION_REJECTED,
			pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED, pkcs11.CKR_DATA_LEN_RANGE:
			return fmt.Errorf("%w: pkcs11 %s: %w", domain.ErrSignerRejected, op, err)
		}
	}
	return fmt.Errorf("%w: pkcs11 %s: %w", domain.ErrSignerUnavailable, op, err)
}
