package main

import (
	"os"

	"github.com/lazypower/streaks/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
