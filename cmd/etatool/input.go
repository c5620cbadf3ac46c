package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// readInput lee el archivo indicado o stdin cuando es "-" o no hay argumento.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
