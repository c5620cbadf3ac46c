package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/digest"
)

func newCanonicalCmd() *cobra.Command {
	var digestOnly bool
	cmd := &cobra.Command{
		Use:   "canonical [file|-]",
		Short: "Imprime el texto canónico de un documento y su SHA-256",
		Long: `Normaliza el documento (sin nulos, documentType en mayúsculas, sin
signatures) y muestra la serialización canónica que se firma, seguida del
resumen SHA-256 en hexadecimal.`,
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
			canonical, err := invoice.Canonicalize(invoice.Normalize(doc))
			if err != nil {
				return err
			}
			sum := digest.NewSHA256().Sum(canonical)

			w := cmd.OutOrStdout()
			if !digestOnly {
				fmt.Fprintln(w, string(canonical))
			}
			fmt.Fprintf(w, "sha256: %s\n", hex.EncodeToString(sum))
			return nil
		},
	}
	cmd.Flags().BoolVar(&digestOnly, "digest-only", false, "solo imprime el resumen")
	return cmd
}
