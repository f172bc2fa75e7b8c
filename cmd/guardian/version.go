package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, overridden with -ldflags "-X main.buildCommit=..."
var (
	version     = "0.1.0"
	buildCommit = "dev"
	buildDate   = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "guardian v%s\n", version)
			fmt.Fprintf(out, "Build: %s (%s)\n", buildCommit, buildDate)
			fmt.Fprintf(out, "Go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
