package main

import (
	"os"

	"github.com/jarsater/toolrpc/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
