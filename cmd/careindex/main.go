// Package main provides the entry point for the careindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/careindex/cmd/careindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
