package main

import (
	"os"

	"github.com/example/liveness-check/cmd/livenesscheck/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
