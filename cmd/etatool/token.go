package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/firmador-eta/pkg/config"
	"github.com/jhoicas/firmador-eta/pkg/jwt"
)

func newTokenCmd() *cobra.Command {
	var (
		clientID string
		scopes   []string
		minutes  int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Emite un token JWT para un cliente de la API",
		Long: `Firma un token HS256 con JWT_SECRET y JWT_ISSUER. Los alcances válidos
son invoice:sign e invoice:submit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errors.New("JWT_SECRET vacío: la API no exige tokens")
			}
			for _, s := range scopes {
				if s != jwt.ScopeSign && s != jwt.ScopeSubmit {
					return fmt.Errorf("alcance desconocido: %q", s)
				}
			}
			if minutes <= 0 {
				minutes = cfg.JWT.Expiration
			}
			tok, err := jwt.Generate(cfg.JWT.Secret, clientID, cfg.JWT.Issuer, scopes, minutes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "identificador del cliente (obligatorio)")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{jwt.ScopeSign}, "alcances del token")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "vigencia en minutos; 0 usa JWT_EXPIRATION_MINUTES")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
