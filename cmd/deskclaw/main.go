// Package main is the entry point for the deskclaw CLI.
package main

import (
	"os"

	"github.com/DeskClaw/DeskClaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
