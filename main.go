package main

import (
	"os"

	"github.com/sievelabs/sift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
