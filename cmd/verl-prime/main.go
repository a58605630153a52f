package main

import (
	"fmt"
	"os"

	"github.com/ZefanW/verl-prime/internal/api/cli"
)

// Set at build time via -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	cli.SetVersionInfo(Version, GitCommit)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
