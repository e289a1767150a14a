// Package main provides the entry point for the aetherd CLI.
package main

import (
	"fmt"
	"os"

	"github.com/aethercode/aether/cmd/aetherd/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
