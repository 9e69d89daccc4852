package main

import (
	"fmt"
	"os"

	"github.com/holyx-app/holyx-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "holyx-sync: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
