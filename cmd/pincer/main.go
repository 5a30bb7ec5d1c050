// Package main provides the entry point for the pincer CLI.
package main

import (
	"fmt"
	"os"

	"github.com/pincersec/pincer/cmd/pincer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
