package main

import (
	"os"

	"dilemma-cloud/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
