package main

import (
	"os"

	"github.com/terra-clan/legal-diagnostic/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
