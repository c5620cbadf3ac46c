// Package bootstrap arma los componentes de firma y envío a partir de la configuración.
package bootstrap

import (
	"fmt"
	"net/http"

	"github.com/jhoicas/firmador-eta/internal/application/signing"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/cms"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/digest"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/etaapi"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/signer"
	"github.com/jhoicas/firmador-eta/pkg/config"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

// SignerConfig traduce la sección Signer al formato de signer.Open.
func SignerConfig(c config.SignerConfig) (signer.Config, error) {
	policy, err := signer.ParseBusyPolicy(c.BusyPolicy)
	if err != nil {
		return signer.Config{}, err
	}
	return signer.Config{
		Backend:    c.Backend,
		BusyPolicy: policy,
		PKCS11: signer.PKCS11Config{
			Module:     c.PKCS11Module,
			Slot:       c.PKCS11Slot,
			TokenLabel: c.PKCS11TokenLabel,
			KeyLabel:   c.PKCS11KeyLabel,
			PIN:        c.PIN,
		},
		P12Path:     c.P12Path,
		P12Password: c.P12Password,
		Helper: signer.HelperConfig{
			Command:    c.HelperCommand,
			CertScript: c.HelperCertScript,
			SignScript: c.HelperSignScript,
			PIN:        c.PIN,
		},
	}, nil
}

// Policy traduce la sección CMS a cms.Policy.
func Policy(c config.CMSConfig) (cms.Policy, error) {
	attached, err := c.Attached()
	if err != nil {
		return cms.Policy{}, err
	}
	enc, err := cms.NewEncapsulation(c.ContentType, attached)
	if err != nil {
		return cms.Policy{}, err
	}
	p := cms.Policy{
		Encapsulation:         enc,
		OmitAlgorithmNull:     c.OmitAlgorithmNull,
		EmptyDigestAlgorithms: c.EmptyDigestAlgorithms,
	}
	return p, p.Validate()
}

// Services componentes listos para los casos de uso. Close libera el firmador.
type Services struct {
	Signer *signer.Exclusive
	Sign   *signing.SignInvoiceUseCase
	Submit *signing.SubmitInvoiceUseCase // nil sin credenciales de la autoridad
}

func (s *Services) Close() error {
	if s == nil || s.Signer == nil {
		return nil
	}
	return s.Signer.Close()
}

// Build abre el firmador configurado y arma los casos de uso.
func Build(cfg *config.Config, log *logger.Logger) (*Services, error) {
	if log == nil {
		log = logger.Nop()
	}
	policy, err := Policy(cfg.CMS)
	if err != nil {
		return nil, err
	}
	sc, err := SignerConfig(cfg.Signer)
	if err != nil {
		return nil, err
	}
	ext, err := signer.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("abrir firmador: %w", err)
	}

	builder, err := cms.NewBuilder(cms.Options{
		Signer:      ext,
		Digest:      digest.NewSHA256(),
		Policy:      policy,
		SignTimeout: cfg.Signer.Timeout,
		Logger:      log,
	})
	if err != nil {
		_ = ext.Close()
		return nil, err
	}
	log.Info().Str("encapsulation", policy.Encapsulation.String()).
		Bool("omit_null", policy.OmitAlgorithmNull).
		Msg("política CMS")

	svc := &Services{Signer: ext, Sign: signing.NewSignInvoiceUseCase(builder, log)}
	if cfg.ETA.Enabled() {
		client, err := etaapi.NewClient(etaapi.Config{
			IDURL:        cfg.ETA.IDURL,
			APIURL:       cfg.ETA.APIURL,
			ClientID:     cfg.ETA.ClientID,
			ClientSecret: cfg.ETA.ClientSecret,
			Timeout:      cfg.ETA.Timeout,
		}, &http.Client{Timeout: cfg.ETA.Timeout}, log)
		if err != nil {
			_ = ext.Close()
			return nil, err
		}
		svc.Submit = signing.NewSubmitInvoiceUseCase(svc.Sign, client, log)
	} else {
		log.Warn().Msg("ETA_CLIENT_ID / ETA_CLIENT_SECRET vacíos: envío a la autoridad deshabilitado")
	}
	return svc, nil
}
