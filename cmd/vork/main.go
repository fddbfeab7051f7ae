package main

import (
	"os"

	"github.com/vorkdev/vork/cmd/vork/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		commands.ReportError(os.Stderr, err)
		os.Exit(commands.ExitCode(err))
	}
}
