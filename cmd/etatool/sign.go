package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/firmador-eta/internal/bootstrap"
	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/pkg/config"
	"github.com/jhoicas/firmador-eta/pkg/logger"
)

func newSignCmd() *cobra.Command {
	var envelopeOnly bool
	cmd := &cobra.Command{
		Use:   "sign [file|-]",
		Short: "Firma un documento con la configuración del servicio",
		Long: `Firma fuera de línea usando las mismas variables de entorno que la API
(SIGNER_BACKEND, CMS_CONTENT_TYPE, CMS_ATTACHED, ...). Imprime el documento
con signatures o, con --envelope, solo el sobre en base64.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return fmt.Errorf("leer documento: %w", err)
			}
			doc, err := invoice.ParseJSON(data)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			// stdout queda para el documento firmado
			log := logger.New(logger.Config{Env: cfg.App.Env, Level: "warn", Out: cmd.ErrOrStderr()})
			svc, err := bootstrap.Build(cfg, log)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			if envelopeOnly {
				b64, err := svc.Sign.SignEnvelope(ctx, doc)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, b64)
				return nil
			}
			signed, err := svc.Sign.Sign(ctx, doc)
			if err != nil {
				return err
			}
			out, err := signed.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&envelopeOnly, "envelope", false, "imprime solo el sobre CMS en base64")
	return cmd
}
