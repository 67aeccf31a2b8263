package main

import (
	"os"

	"github.com/rustyeddy/straddle/cmd/straddle/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
