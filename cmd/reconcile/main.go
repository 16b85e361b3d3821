// Command reconcile imports entity records into a scoped attribute store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/reconcile/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
