// Package main is the entry point for pdfctl, the pdfforge operator CLI.
package main

import (
	"os"

	"pdfforge/cmd/pdfctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
