package main

import (
	"os"

	"github.com/ppiankov/surfwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
