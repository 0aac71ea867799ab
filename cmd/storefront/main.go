package main

import (
	"fmt"
	"os"

	"github.com/stockflow/storefront/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		code := cli.GetExitCode(err)
		// failed outcomes were already reported on stdout
		if code != cli.ExitFailure {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(code)
	}
}
