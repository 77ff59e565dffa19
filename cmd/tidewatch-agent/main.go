package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/tidewatch-io/tidewatch/cmd/tidewatch-agent/app"
)

func main() {
	if err := app.NewAgentCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
