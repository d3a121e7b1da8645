package main

import (
	"os"

	"github.com/wegman-software/osmbounds/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
