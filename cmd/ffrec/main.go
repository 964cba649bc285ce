package main

import (
	"os"

	"github.com/psantana5/ffrec/cmd/ffrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
