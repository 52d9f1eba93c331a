package main

import (
	"os"

	"sourcebridge.dev/internal/cli"
)

// Set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
