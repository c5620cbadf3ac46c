package main

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/firmador-eta/internal/domain"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/signer"
)

func newCheckP12Cmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "check-p12 <path>",
		Short: "Diagnostica un certificado PKCS#12 y su contraseña",
		Long: `Verifica que el archivo exista, que la contraseña lo abra y que contenga
una llave RSA con su certificado. Sin --password se usa P12_PASSWORD.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			path := args[0]
			if !cmd.Flags().Changed("password") {
				password = os.Getenv("P12_PASSWORD")
			}

			fmt.Fprintln(w, "Diagnóstico de certificado PKCS#12")
			fmt.Fprintf(w, "  Archivo: %s\n", path)
			info, err := os.Stat(path)
			if err != nil {
				fmt.Fprintln(w, "  ❌ no se puede abrir el archivo")
				return fmt.Errorf("archivo: %w", err)
			}
			fmt.Fprintf(w, "  ✅ archivo encontrado (%d bytes)\n", info.Size())

			s, err := signer.LoadP12(path, password)
			if err != nil {
				if errors.Is(err, domain.ErrSignerRejected) {
					fmt.Fprintln(w, "  ❌ la contraseña no abre el archivo o el contenido no es una llave RSA")
				}
				return err
			}
			der, err := s.Certificate(cmd.Context())
			if err != nil {
				return err
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return fmt.Errorf("certificado: %w", err)
			}
			fmt.Fprintln(w, "  ✅ contraseña correcta, llave RSA y certificado coinciden")
			fmt.Fprintf(w, "  Sujeto:   %s\n", cert.Subject.String())
			fmt.Fprintf(w, "  Emisor:   %s\n", cert.Issuer.String())
			fmt.Fprintf(w, "  Serial:   %s\n", cert.SerialNumber.Text(16))
			fmt.Fprintf(w, "  Vigencia: %s a %s\n",
				cert.NotBefore.UTC().Format("2006-01-02"), cert.NotAfter.UTC().Format("2006-01-02"))
			if time.Now().After(cert.NotAfter) {
				fmt.Fprintln(w, "  ⚠️  el certificado está vencido")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "contraseña del archivo .p12")
	return cmd
}
