package main

import (
	"fmt"
	"os"

	"github.com/iudanet/cartsync/internal/client/cli"
	"github.com/iudanet/cartsync/internal/client/iocli"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd := cli.NewRootCommand(iocli.NewStdio(), versionString())
	cmd.SetVersionTemplate("cartsync client\n{{.Version}}\n")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionString() string {
	return fmt.Sprintf("Version:    %s\nBuild Date: %s\nGit Commit: %s", Version, BuildDate, GitCommit)
}
