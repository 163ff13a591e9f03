package main

import (
	"os"

	"github.com/prooflane/prooflane/cmd/proofctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
