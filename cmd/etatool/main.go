// Command etatool reúne utilidades de operación del firmador: inspección de
// sobres CMS, canonización de documentos, diagnóstico de certificados .p12,
// firma fuera de línea y emisión de tokens para clientes de la API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Inyectadas en el build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "etatool",
		Short: "Utilidades del firmador de facturas ETA",
		Long: `etatool ayuda a diagnosticar la firma de documentos de la ETA.

Ejemplos:
  # Ver el contenido de una firma tomada de signatures[].value
  etatool inspect firma.txt

  # Texto canónico y resumen SHA-256 de un documento
  etatool canonical factura.json

  # Verificar un certificado .p12 y su contraseña
  etatool check-p12 certificado.p12 --password secreto

  # Firmar un documento con la configuración del servicio
  etatool sign factura.json > firmada.json`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newInspectCmd(),
		newCanonicalCmd(),
		newCheckP12Cmd(),
		newSignCmd(),
		newTokenCmd(),
	)
	return root
}
