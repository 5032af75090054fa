package main

import (
	"os"

	"github.com/DhavalThkkar/langfuse/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
