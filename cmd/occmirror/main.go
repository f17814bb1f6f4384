package main

import (
	"os"

	"github.com/biodiversity-meets-data/occmirror/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
