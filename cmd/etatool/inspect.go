package main

import (
	"bytes"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/firmador-eta/internal/domain/invoice"
	"github.com/jhoicas/firmador-eta/internal/infrastructure/cms"
)

func newInspectCmd() *cobra.Command {
	var documentPath string
	cmd := &cobra.Command{
		Use:   "inspect [file|-]",
		Short: "Muestra el contenido de un sobre CMS y verifica la firma",
		Long: `Decodifica un sobre CMS (base64 o DER) y muestra tipo de contenido,
atributos firmados, certificado y el resultado de verificar la firma RSA.

Con --document se comprueba además que message-digest coincide con el
documento canonizado.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return fmt.Errorf("leer sobre: %w", err)
			}
			in, err := parseEnvelope(raw)
			if err != nil {
				return err
			}
			var canonical []byte
			if documentPath != "" {
				data, err := os.ReadFile(documentPath)
				if err != nil {
					return fmt.Errorf("leer documento: %w", err)
				}
				doc, err := invoice.ParseJSON(data)
				if err != nil {
					return err
				}
				if canonical, err = invoice.Canonicalize(invoice.Normalize(doc)); err != nil {
					return err
				}
			}
			return printInspection(cmd.OutOrStdout(), in, canonical)
		},
	}
	cmd.Flags().StringVar(&documentPath, "document", "", "documento JSON contra el que se compara message-digest")
	return cmd
}

// parseEnvelope acepta DER directo o base64 con espacios y saltos de línea.
func parseEnvelope(raw []byte) (*cms.Inspection, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == 0x30 {
		return cms.Inspect(trimmed)
	}
	clean := strings.Join(strings.Fields(string(trimmed)), "")
	der, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("el sobre no es DER ni base64: %w", err)
	}
	return cms.Inspect(der)
}

func printInspection(w io.Writer, in *cms.Inspection, canonical []byte) error {
	fmt.Fprintln(w, "SignedData:")
	fmt.Fprintf(w, "  Versión:              %d\n", in.Version)
	fmt.Fprintf(w, "  Algoritmos resumen:   %d\n", len(in.DigestAlgorithms))
	fmt.Fprintf(w, "  Contenido:            %s\n", oidName(in.EncapsulatedType))
	if in.Attached() {
		fmt.Fprintf(w, "  Adjunto:              sí (%d bytes)\n", len(in.Content))
	} else {
		fmt.Fprintln(w, "  Adjunto:              no")
	}
	fmt.Fprintf(w, "  Certificados:         %d\n", len(in.Certificates))

	fmt.Fprintln(w, "SignerInfo:")
	fmt.Fprintf(w, "  Versión:              %d\n", in.SignerVersion)
	if in.SerialNumber != nil {
		fmt.Fprintf(w, "  Serial:               %s\n", in.SerialNumber.Text(16))
	}
	fmt.Fprintf(w, "  NULL en algoritmos:   %t\n", in.AlgorithmHasNull)
	fmt.Fprintf(w, "  Firma:                %d bytes\n", len(in.Signature))

	fmt.Fprintln(w, "Atributos firmados:")
	for _, a := range in.SignedAttributes {
		fmt.Fprintf(w, "  - %s\n", oidName(a.Type))
	}
	if in.AttrContentType != nil {
		fmt.Fprintf(w, "  content-type:         %s\n", oidName(in.AttrContentType))
	}
	if in.MessageDigest != nil {
		fmt.Fprintf(w, "  message-digest:       %s\n", hex.EncodeToString(in.MessageDigest))
	}
	if !in.SigningTime.IsZero() {
		fmt.Fprintf(w, "  signing-time:         %s\n", in.SigningTime.UTC().Format(time.RFC3339))
	}
	if in.CertHash != nil {
		fmt.Fprintf(w, "  certHash:             %s\n", hex.EncodeToString(in.CertHash))
	}

	if cert, err := in.Certificate(); err == nil {
		fmt.Fprintln(w, "Certificado:")
		fmt.Fprintf(w, "  Sujeto:               %s\n", cert.Subject.String())
		fmt.Fprintf(w, "  Emisor:               %s\n", cert.Issuer.String())
		fmt.Fprintf(w, "  Vigencia:             %s a %s\n",
			cert.NotBefore.UTC().Format("2006-01-02"), cert.NotAfter.UTC().Format("2006-01-02"))
		fmt.Fprintf(w, "  certHash coincide:    %t\n", in.CertificateMatches())
	}

	fmt.Fprintln(w, "Verificación:")
	switch err := in.VerifySignature(); {
	case err == nil:
		fmt.Fprintln(w, "  firma: válida")
	case errors.Is(err, cms.ErrImplicitTagSignature):
		fmt.Fprintln(w, "  firma: válida solo sobre los atributos con tag [0] (no conforme)")
	default:
		fmt.Fprintf(w, "  firma: inválida (%v)\n", err)
	}
	if canonical != nil {
		fmt.Fprintf(w, "  documento coincide:   %t\n", in.MatchesCanonical(canonical))
	}
	return nil
}

func oidName(oid asn1.ObjectIdentifier) string {
	s := oid.String()
	if name, ok := oidNames[s]; ok {
		return name + " (" + s + ")"
	}
	return s
}

var oidNames = map[string]string{
	cms.OIDData.String():                          "data",
	cms.OIDDigestedData.String():                  "digestedData",
	cms.OIDSignedData.String():                    "signedData",
	cms.OIDAttributeContentType.String():          "content-type",
	cms.OIDAttributeMessageDigest.String():        "message-digest",
	cms.OIDAttributeSigningTime.String():          "signing-time",
	cms.OIDAttributeSigningCertificateV2.String(): "signing-certificate-v2",
}
