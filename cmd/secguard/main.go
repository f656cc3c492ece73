package main

import (
	"fmt"
	"os"

	"github.com/2witstudios/pagespace-security/internal/cmd"
)

// Preenchidos via -ldflags no build.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
