package main

import (
	"fmt"
	"os"

	"github.com/roach88/invar/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "invar: %s\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
