// Package main provides the entry point for the Codewave backend CLI.
package main

import (
	"fmt"
	"os"

	"github.com/codewave-dev/codewave/cmd/codewave/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
