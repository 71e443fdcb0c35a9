// Command corpus-syncd runs (or inspects) the multi-writer sync core as a
// standalone daemon/CLI, grounded on the teacher's root cobra command in
// cmd/ollama-distributed/main.go (§4.12).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	root := &cobra.Command{
		Use:     "corpus-syncd",
		Short:   "Multi-writer synchronization core for a personal knowledge-management corpus",
		Version: version,
	}

	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(journalCmd())
	root.AddCommand(hashPasswordCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
