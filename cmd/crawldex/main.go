// Package main provides the entry point for the crawldex CLI.
package main

import (
	"fmt"
	"os"

	"github.com/crawldex/crawldex/cmd/crawldex/cmd"
	cerrors "github.com/crawldex/crawldex/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, cerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
