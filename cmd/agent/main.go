package main

import (
	"os"

	"fleet-tracker/internal/agent"
)

func main() {
	if err := agent.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
